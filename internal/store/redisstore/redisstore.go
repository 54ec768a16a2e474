// Package redisstore keeps session profiles in Redis so several intake
// instances can share them. Keys expire after the configured TTL.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/intake/pkg/intake"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces profile keys.
	DefaultKeyPrefix = "intake:profile:"
	// DefaultTTL bounds how long an unsubmitted profile is kept.
	DefaultTTL = 30 * time.Minute

	errorOperationStore = "store"
	errorSubjectSession = "session"
	errorCodeClear      = "clear"
	errorCodeDecode     = "decode"
	errorCodeEncode     = "encode"
	errorCodeGet        = "get"
	errorCodeSave       = "save"
)

// Store implements intake.SessionStore on Redis.
type Store struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL. Non-positive values keep keys until cleared.
func WithTTL(ttl time.Duration) Option {
	return func(store *Store) {
		store.ttl = ttl
	}
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(store *Store) {
		if prefix != "" {
			store.keyPrefix = prefix
		}
	}
}

// New returns a Store using client.
func New(client redis.Cmdable, options ...Option) *Store {
	store := &Store{client: client, keyPrefix: DefaultKeyPrefix, ttl: DefaultTTL}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store
}

// Dial parses a redis:// URL and verifies the server answers.
func Dial(ctx context.Context, rawURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (store *Store) Load(ctx context.Context, sessionID intake.SessionID) (intake.RawProfile, error) {
	payload, err := store.client.Get(ctx, store.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, wrapStoreError(errorCodeGet, intake.ErrProfileNotFound)
	}
	if err != nil {
		return nil, wrapStoreError(errorCodeGet, err)
	}
	raw, err := intake.DecodeProfile(payload)
	if err != nil {
		return nil, wrapStoreError(errorCodeDecode, err)
	}
	return raw, nil
}

func (store *Store) Save(ctx context.Context, sessionID intake.SessionID, raw intake.RawProfile) error {
	payload, err := intake.EncodeProfile(raw)
	if err != nil {
		return wrapStoreError(errorCodeEncode, err)
	}
	ttl := store.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := store.client.Set(ctx, store.key(sessionID), payload, ttl).Err(); err != nil {
		return wrapStoreError(errorCodeSave, err)
	}
	return nil
}

func (store *Store) Clear(ctx context.Context, sessionID intake.SessionID) error {
	if err := store.client.Del(ctx, store.key(sessionID)).Err(); err != nil {
		return wrapStoreError(errorCodeClear, err)
	}
	return nil
}

func (store *Store) key(sessionID intake.SessionID) string {
	return store.keyPrefix + sessionID.String()
}

func wrapStoreError(code string, err error) error {
	return intake.WrapError(errorOperationStore, errorSubjectSession, code, err)
}
