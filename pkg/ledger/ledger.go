// Package ledger stores who paid for which meal.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"quempaga/models"

	"gorm.io/gorm"
)

// DefaultRecent is the number of rows shown on the index page.
const DefaultRecent = 10

// parseLayout accepts one- or two-digit month and day; stored dates are always zero padded.
const parseLayout = "2006-1-2"

// Ledger appends and queries entries.
type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// NormalizeDate returns raw as YYYY-MM-DD or ErrInvalidDate.
func NormalizeDate(raw string) (string, error) {
	t, err := time.Parse(parseLayout, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return t.Format(models.DateLayout), nil
}

// AddEntry normalizes the date and inserts a new row.
func (l *Ledger) AddEntry(ctx context.Context, date, buyer, entryType string, value float64) (*models.Entry, error) {
	normalized, err := NormalizeDate(date)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(buyer) == "" {
		return nil, fmt.Errorf("%w: buyer", ErrMissingField)
	}
	if strings.TrimSpace(entryType) == "" {
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}
	e := models.Entry{Date: normalized, Buyer: buyer, Type: entryType, Value: value}
	if err := l.db.WithContext(ctx).Create(&e).Error; err != nil {
		return nil, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return &e, nil
}

// Latest returns the most recent entry of entryType, or nil when there is none.
func (l *Ledger) Latest(ctx context.Context, entryType string) (*models.Entry, error) {
	var e models.Entry
	err := l.db.WithContext(ctx).
		Where("type = ?", entryType).
		Order("date desc").Order("id desc").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: latest %s: %w", entryType, err)
	}
	return &e, nil
}

// Recent returns up to n entries, newest date first. n <= 0 means DefaultRecent.
func (l *Ledger) Recent(ctx context.Context, n int) ([]models.Entry, error) {
	if n <= 0 {
		n = DefaultRecent
	}
	var items []models.Entry
	if err := l.db.WithContext(ctx).Order("date desc").Order("id desc").Limit(n).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	return items, nil
}

// Overview is what the index page shows.
type Overview struct {
	LastLunch  *models.Entry
	LastDinner *models.Entry
	Recent     []models.Entry
}

func (l *Ledger) Overview(ctx context.Context) (Overview, error) {
	var (
		ov  Overview
		err error
	)
	if ov.LastLunch, err = l.Latest(ctx, models.TypeLunch); err != nil {
		return Overview{}, err
	}
	if ov.LastDinner, err = l.Latest(ctx, models.TypeDinner); err != nil {
		return Overview{}, err
	}
	if ov.Recent, err = l.Recent(ctx, DefaultRecent); err != nil {
		return Overview{}, err
	}
	return ov, nil
}
