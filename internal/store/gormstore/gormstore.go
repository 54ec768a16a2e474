package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/intake/internal/store/applicationrecord"
	"github.com/MarkoPoloResearchLab/intake/pkg/intake"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintApplicationSession = "uniq_applications_session_id"
	pgUniqueViolationCode        = "23505"
	sqliteConstraintCode         = 19
	errorOperationStore          = "store"
	errorSubjectSession          = "session"
	errorSubjectApplication      = "application"
	errorCodeClear               = "clear"
	errorCodeDecode              = "decode"
	errorCodeDuplicate           = "duplicate"
	errorCodeEncode              = "encode"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeSave                = "save"
)

// Store implements intake.SessionStore and intake.ApplicationRecorder using GORM.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (store *Store) Load(ctx context.Context, sessionID intake.SessionID) (intake.RawProfile, error) {
	var session ProfileSession
	err := store.db.WithContext(ctx).
		Where("session_id = ?", sessionID.String()).
		Take(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wrapStoreError(errorSubjectSession, errorCodeGet, intake.ErrProfileNotFound)
		}
		return nil, wrapStoreError(errorSubjectSession, errorCodeGet, err)
	}
	raw, err := intake.DecodeProfile(session.Payload)
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
	now := store.now()
	session := ProfileSession{
		SessionID: sessionID.String(),
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&session).Error
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeSave, err)
	}
	return nil
}

func (store *Store) Clear(ctx context.Context, sessionID intake.SessionID) error {
	err := store.db.WithContext(ctx).
		Where("session_id = ?", sessionID.String()).
		Delete(&ProfileSession{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeClear, err)
	}
	return nil
}

func (store *Store) RecordApplication(ctx context.Context, sessionID intake.SessionID, submission intake.Submission) (intake.ApplicationReceipt, error) {
	record, err := applicationrecord.New(submission)
	if err != nil {
		return intake.ApplicationReceipt{}, wrapStoreError(errorSubjectApplication, errorCodeEncode, err)
	}
	application := Application{
		SessionID:           sessionID.String(),
		AccountType:         record.AccountType,
		TransactionLimit:    record.TransactionLimit,
		Name:                record.Name,
		Email:               record.Email,
		PhoneNumber:         record.PhoneNumber,
		Gender:              record.Gender,
		Birthdate:           record.Birthdate,
		Address:             record.Address,
		City:                record.City,
		PINHash:             record.PINHash,
		ChannelAccess:       datatypes.JSON(record.ChannelAccess),
		PaymentCapabilities: datatypes.JSON(record.PaymentCapabilities),
		SubmittedAt:         store.now(),
	}
	err = store.db.WithContext(ctx).Create(&application).Error
	if isApplicationConflict(err) {
		return intake.ApplicationReceipt{}, wrapStoreError(errorSubjectApplication, errorCodeDuplicate, intake.ErrDuplicateApplication)
	}
	if err != nil {
		return intake.ApplicationReceipt{}, wrapStoreError(errorSubjectApplication, errorCodeInsert, err)
	}
	return intake.ApplicationReceipt{
		ApplicationID: application.ApplicationID,
		SubmittedAt:   application.SubmittedAt,
	}, nil
}

// FindApplication returns the stored application of a session.
func (store *Store) FindApplication(ctx context.Context, sessionID intake.SessionID) (Application, error) {
	var application Application
	err := store.db.WithContext(ctx).
		Where("session_id = ?", sessionID.String()).
		Take(&application).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Application{}, wrapStoreError(errorSubjectApplication, errorCodeGet, intake.ErrProfileNotFound)
		}
		return Application{}, wrapStoreError(errorSubjectApplication, errorCodeGet, err)
	}
	return application, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return intake.WrapError(errorOperationStore, subject, code, err)
}

func isApplicationConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintApplicationSession
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
