package models

import (
	"time"
)

// User model. Accounts are created by passkey registration or the create_user CLI.
type User struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Email     string `gorm:"size:255;not null;uniqueIndex"`
	Active    bool   `gorm:"not null;default:true"`
	// FsUniquifier is the stable handle the authenticator stores as the WebAuthn user id.
	FsUniquifier   string       `gorm:"column:fs_uniquifier;size:255;not null;uniqueIndex"`
	HashedPassword []byte       // nil for passkey-only accounts
	Roles          []Role       `gorm:"many2many:roles_users;"`
	Credentials    []Credential `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// HasRole reports whether roles were loaded and contain name.
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}
