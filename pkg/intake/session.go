package intake

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// SessionStore keeps the raw profile of a session until the application is submitted.
// Load returns ErrProfileNotFound when nothing is stored and ErrCorruptSession when
// the stored payload cannot be decoded.
type SessionStore interface {
	Load(ctx context.Context, sessionID SessionID) (RawProfile, error)
	Save(ctx context.Context, sessionID SessionID, raw RawProfile) error
	Clear(ctx context.Context, sessionID SessionID) error
}

// ApplicationRecorder persists submitted applications.
type ApplicationRecorder interface {
	RecordApplication(ctx context.Context, sessionID SessionID, submission Submission) (ApplicationReceipt, error)
}

// EncodeProfile serializes a profile as base64-wrapped JSON for session storage.
func EncodeProfile(raw RawProfile) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("%w: nil profile", ErrInvalidProfilePayload)
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProfilePayload, err)
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecodeProfile reverses EncodeProfile.
func DecodeProfile(encoded string) (RawProfile, error) {
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	var raw RawProfile
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty profile", ErrCorruptSession)
	}
	return raw, nil
}

// ParseProfileJSON decodes a user-info document into a RawProfile.
func ParseProfileJSON(document []byte) (RawProfile, error) {
	var raw RawProfile
	if err := json.Unmarshal(document, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfilePayload, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidProfilePayload)
	}
	return raw, nil
}
