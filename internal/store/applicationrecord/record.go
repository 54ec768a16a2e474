// Package applicationrecord converts submissions into the shape the storage adapters persist.
package applicationrecord

import (
	"encoding/json"
	"fmt"

	"github.com/MarkoPoloResearchLab/intake/pkg/intake"
	"golang.org/x/crypto/bcrypt"
)

// PINHashCost is the bcrypt cost applied to submitted PINs.
const PINHashCost = bcrypt.DefaultCost

// Record is the storage shape of a submission. The PIN is kept only as a hash.
type Record struct {
	AccountType         string
	TransactionLimit    string
	Name                string
	Email               string
	PhoneNumber         string
	Gender              string
	Birthdate           string
	Address             string
	City                string
	PINHash             string
	ChannelAccess       []byte
	PaymentCapabilities []byte
}

// New flattens a submission for storage.
func New(submission intake.Submission) (Record, error) {
	pinHash, err := bcrypt.GenerateFromPassword([]byte(submission.PersonalInfo.PIN), PINHashCost)
	if err != nil {
		return Record{}, fmt.Errorf("hash pin: %w", err)
	}
	channels, err := json.Marshal(submission.ChannelAccess)
	if err != nil {
		return Record{}, fmt.Errorf("encode channel access: %w", err)
	}
	capabilities, err := json.Marshal(submission.PaymentCapabilities)
	if err != nil {
		return Record{}, fmt.Errorf("encode payment capabilities: %w", err)
	}
	personal := submission.PersonalInfo
	return Record{
		AccountType:         submission.AccountType.String(),
		TransactionLimit:    submission.TransactionLimit,
		Name:                personal.Name,
		Email:               personal.Email,
		PhoneNumber:         personal.PhoneNumber,
		Gender:              personal.Gender,
		Birthdate:           personal.Birthdate,
		Address:             personal.Address,
		City:                personal.City,
		PINHash:             string(pinHash),
		ChannelAccess:       channels,
		PaymentCapabilities: capabilities,
	}, nil
}

// PINMatches reports whether pin hashes to pinHash.
func PINMatches(pinHash string, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(pinHash), []byte(pin)) == nil
}
