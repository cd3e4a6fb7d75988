package views

import "quempaga/models"

// Page is the data every template receives. Unused fields stay zero.
type Page struct {
	Email string
	Error string

	CurrentDate string
	LastLunch   *models.Entry
	LastDinner  *models.Entry
	Entries     []models.Entry

	LoginEmail       string
	RegistrationOpen bool
}
