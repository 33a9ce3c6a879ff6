package models

import "time"

// SessionRecord is one row per courtroom session. Metadata holds the JSON
// document with case settings, tallies, role assignments and ruling.
type SessionRecord struct {
	ID            string `gorm:"primaryKey;size:64"`
	Topic         string `gorm:"type:text;not null"`
	Status        string `gorm:"size:16;default:pending;index"`
	Participants  string `gorm:"type:json"`
	Phase         string `gorm:"size:32;default:case_prompt"`
	TurnCount     int    `gorm:"not null;default:0"`
	Metadata      string `gorm:"type:json"`
	FailureReason string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time

	Turns []TurnRecord `gorm:"foreignKey:SessionID"`
}

// TurnRecord is one append-only row per utterance. (SessionID, Sequence) is
// unique, so two writers can never claim the same slot.
type TurnRecord struct {
	ID         string `gorm:"primaryKey;size:64"`
	SessionID  string `gorm:"size:64;not null;uniqueIndex:idx_session_sequence"`
	Sequence   int    `gorm:"not null;uniqueIndex:idx_session_sequence"`
	Speaker    string `gorm:"size:64;not null"`
	Role       string `gorm:"size:16;not null"`
	Phase      string `gorm:"size:32;not null"`
	Dialogue   string `gorm:"type:mediumtext"`
	Moderation string `gorm:"type:json"`
	CreatedAt  time.Time
}
