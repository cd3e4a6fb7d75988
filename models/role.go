package models

import "time"

// Role names seeded at migration time.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Role represents user roles with numeric primary key
type Role struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Name        string `gorm:"size:80;uniqueIndex;not null"`
	Description string `gorm:"size:255"`
}

// DefaultRoles is the static reference data for the roles table.
func DefaultRoles() []Role {
	return []Role{
		{Name: RoleAdmin, Description: "full access"},
		{Name: RoleUser, Description: "regular user"},
	}
}
