package models

import "time"

// Credential is a registered passkey bound to one user.
type Credential struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	UserID    uint `gorm:"index;not null"`
	// CredentialID is the raw authenticator credential id, base64url without padding.
	CredentialID    string `gorm:"size:255;not null;uniqueIndex"`
	PublicKey       []byte `gorm:"not null"`
	SignCount       uint32 `gorm:"not null;default:0"`
	AttestationType string `gorm:"size:64"`
	AAGUID          []byte
	BackupEligible  bool `gorm:"not null;default:false"`
	BackupState     bool `gorm:"not null;default:false"`
	LastUsedAt      *time.Time
}
