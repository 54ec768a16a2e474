package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProfileSession holds the encoded identity profile of one session.
type ProfileSession struct {
	SessionID string    `gorm:"primaryKey"`
	Payload   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ProfileSession) TableName() string { return "profile_sessions" }

// Application mirrors the applications table.
type Application struct {
	ApplicationID       string         `gorm:"type:uuid;primaryKey"`
	SessionID           string         `gorm:"not null;index:uniq_applications_session_id,unique"`
	AccountType         string         `gorm:"not null"`
	TransactionLimit    string         `gorm:"not null"`
	Name                string         `gorm:"not null"`
	Email               string         `gorm:"not null"`
	PhoneNumber         string         `gorm:"not null"`
	Gender              string         `gorm:"not null"`
	Birthdate           string         `gorm:"not null"`
	Address             string         `gorm:"not null"`
	City                string         `gorm:"not null"`
	PINHash             string         `gorm:"column:pin_hash;not null"`
	ChannelAccess       datatypes.JSON `gorm:"not null"`
	PaymentCapabilities datatypes.JSON `gorm:"not null"`
	SubmittedAt         time.Time      `gorm:"not null;index"`
}

func (Application) TableName() string { return "applications" }

func (application *Application) BeforeCreate(tx *gorm.DB) error {
	if application.ApplicationID == "" {
		application.ApplicationID = uuid.NewString()
	}
	return nil
}

// Migrate creates or updates the tables used by Store.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&ProfileSession{}, &Application{})
}
