package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/intake/internal/store/applicationrecord"
	"github.com/MarkoPoloResearchLab/intake/pkg/intake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintApplicationSession = "uniq_applications_session_id"
	pgUniqueViolationCode        = "23505"
	errorOperationStore          = "store"
	errorSubjectSchema           = "schema"
	errorSubjectSession          = "session"
	errorSubjectApplication      = "application"
	errorCodeClear               = "clear"
	errorCodeCreate              = "create"
	errorCodeDecode              = "decode"
	errorCodeDuplicate           = "duplicate"
	errorCodeEncode              = "encode"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeSave                = "save"

	sqlCreateSchema = `
		create table if not exists profile_sessions (
			session_id text primary key,
			payload text not null,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		);
		create table if not exists applications (
			application_id uuid primary key default gen_random_uuid(),
			session_id text not null,
			account_type text not null,
			transaction_limit text not null,
			name text not null,
			email text not null,
			phone_number text not null,
			gender text not null,
			birthdate text not null,
			address text not null,
			city text not null,
			pin_hash text not null,
			channel_access jsonb not null,
			payment_capabilities jsonb not null,
			submitted_at timestamptz not null default now()
		);
		create unique index if not exists uniq_applications_session_id on applications(session_id);
	`

	sqlSelectSession = `
		select payload from profile_sessions where session_id = $1
	`

	sqlUpsertSession = `
		insert into profile_sessions(session_id, payload) values ($1, $2)
		on conflict (session_id) do update set payload = excluded.payload, updated_at = now()
	`

	sqlDeleteSession = `
		delete from profile_sessions where session_id = $1
	`

	sqlInsertApplication = `
		insert into applications(
			session_id, account_type, transaction_limit, name, email, phone_number,
			gender, birthdate, address, city, pin_hash, channel_access, payment_capabilities
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13::jsonb)
		returning application_id::text, submitted_at
	`
)

// Store implements intake.SessionStore and intake.ApplicationRecorder over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables the store needs when they are missing.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, sqlCreateSchema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) Load(ctx context.Context, sessionID intake.SessionID) (intake.RawProfile, error) {
	var payload string
	err := store.pool.QueryRow(ctx, sqlSelectSession, sessionID.String()).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wrapStoreError(errorSubjectSession, errorCodeGet, intake.ErrProfileNotFound)
		}
		return nil, wrapStoreError(errorSubjectSession, errorCodeGet, err)
	}
	raw, err := intake.DecodeProfile(payload)
	if err != nil {
		return nil, wrapStoreError(errorSubjectSession, errorCodeDecode, err)
	}
	return raw, nil
}

func (store *Store) Save(ctx context.Context, sessionID intake.SessionID, raw intake.RawProfile) error {
	payload, err := intake.EncodeProfile(raw)
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeEncode, err)
	}
	if _, err := store.pool.Exec(ctx, sqlUpsertSession, sessionID.String(), payload); err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeSave, err)
	}
	return nil
}

func (store *Store) Clear(ctx context.Context, sessionID intake.SessionID) error {
	if _, err := store.pool.Exec(ctx, sqlDeleteSession, sessionID.String()); err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeClear, err)
	}
	return nil
}

func (store *Store) RecordApplication(ctx context.Context, sessionID intake.SessionID, submission intake.Submission) (intake.ApplicationReceipt, error) {
	record, err := applicationrecord.New(submission)
	if err != nil {
		return intake.ApplicationReceipt{}, wrapStoreError(errorSubjectApplication, errorCodeEncode, err)
	}
	var (
		applicationID string
		submittedAt   time.Time
	)
	err = store.pool.QueryRow(ctx, sqlInsertApplication,
		sessionID.String(),
		record.AccountType,
		record.TransactionLimit,
		record.Name,
		record.Email,
		record.PhoneNumber,
		record.Gender,
		record.Birthdate,
		record.Address,
		record.City,
		record.PINHash,
		string(record.ChannelAccess),
		string(record.PaymentCapabilities),
	).Scan(&applicationID, &submittedAt)
	if isApplicationConflict(err) {
		return intake.ApplicationReceipt{}, wrapStoreError(errorSubjectApplication, errorCodeDuplicate, intake.ErrDuplicateApplication)
	}
	if err != nil {
		return intake.ApplicationReceipt{}, wrapStoreError(errorSubjectApplication, errorCodeInsert, err)
	}
	return intake.ApplicationReceipt{ApplicationID: applicationID, SubmittedAt: submittedAt.UTC()}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return intake.WrapError(errorOperationStore, subject, code, err)
}

func isApplicationConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintApplicationSession
	}
	return false
}
