package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Session represents the sessions table.
type Session struct {
	SessionID     string    `gorm:"primaryKey"`
	HostID        string    `gorm:"not null;index"`
	Title         string    `gorm:""`
	QuestionPrice int64     `gorm:"not null"`
	AssetCode     string    `gorm:"not null"`
	AssetScale    int32     `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (Session) TableName() string { return "sessions" }

// GuestPaymentRecord mirrors the guest_payment_records table. One row per
// (guest, session); the URL set is stored as a JSON array.
type GuestPaymentRecord struct {
	GuestID       string         `gorm:"primaryKey"`
	SessionID     string         `gorm:"primaryKey"`
	PaymentURLs   datatypes.JSON `gorm:"type:jsonb;not null"`
	VerifiedTotal int64          `gorm:"not null"`
	StreamedTotal int64          `gorm:"not null"`
	AssetCode     string         `gorm:"not null"`
	AssetScale    int32          `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

func (GuestPaymentRecord) TableName() string { return "guest_payment_records" }

// Question mirrors the questions table.
type Question struct {
	QuestionID string    `gorm:"type:uuid;primaryKey"`
	SessionID  string    `gorm:"not null;index:idx_questions_session_guest,priority:1"`
	GuestID    string    `gorm:"not null;index:idx_questions_session_guest,priority:2"`
	AuthorName string    `gorm:""`
	Text       string    `gorm:"not null"`
	Status     string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (Question) TableName() string { return "questions" }

func (question *Question) BeforeCreate(tx *gorm.DB) error {
	if question.QuestionID == "" {
		question.QuestionID = uuid.NewString()
	}
	return nil
}
