package models

import "time"

// Meal types rendered on the index page. Entry.Type accepts any string.
const (
	TypeLunch  = "Lunch"
	TypeDinner = "Dinner"
)

// DateLayout is the storage format of Entry.Date.
const DateLayout = "2006-01-02"

// Entry records who paid for one meal.
type Entry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Date      string    `gorm:"size:10;not null;index" json:"date"`
	Buyer     string    `gorm:"not null" json:"buyer"`
	Type      string    `gorm:"not null;index" json:"type"`
	Value     float64   `gorm:"not null" json:"value"`
}
