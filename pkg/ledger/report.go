package ledger

import (
	"context"
	"fmt"
	"time"

	"quempaga/models"

	"gorm.io/gorm"
)

const monthLayout = "2006-01"

// BuyerTotal sums what one buyer paid within a month.
type BuyerTotal struct {
	Buyer string  `json:"buyer"`
	Meals int64   `json:"meals"`
	Total float64 `json:"total"`
}

// Report covers one calendar month.
type Report struct {
	Month   string         `json:"month"`
	Meals   int64          `json:"meals"`
	Total   float64        `json:"total"`
	Buyers  []BuyerTotal   `json:"buyers"`
	Entries []models.Entry `json:"entries,omitempty"`
}

// monthBounds returns [start, end) as stored date strings. Dates are
// zero padded so string comparison orders them.
func monthBounds(month string) (string, string, error) {
	t, err := time.Parse(monthLayout, month)
	if err != nil {
		return "", "", fmt.Errorf("%w: month %q, expected YYYY-MM", ErrInvalidDate, month)
	}
	return t.Format(models.DateLayout), t.AddDate(0, 1, 0).Format(models.DateLayout), nil
}

// MonthlyReport totals the month's entries per buyer, biggest spender first.
// withEntries also lists the rows in date order.
func (l *Ledger) MonthlyReport(ctx context.Context, month string, withEntries bool) (*Report, error) {
	start, end, err := monthBounds(month)
	if err != nil {
		return nil, err
	}
	q := l.db.WithContext(ctx).Model(&models.Entry{}).Where("date >= ? AND date < ?", start, end)

	rep := &Report{Month: month}
	if err := q.Session(&gorm.Session{}).
		Select("buyer, COUNT(*) AS meals, COALESCE(SUM(value), 0) AS total").
		Group("buyer").
		Order("total desc").Order("buyer").
		Scan(&rep.Buyers).Error; err != nil {
		return nil, fmt.Errorf("ledger: report %s: %w", month, err)
	}
	for _, b := range rep.Buyers {
		rep.Meals += b.Meals
		rep.Total += b.Total
	}
	if withEntries {
		if err := q.Session(&gorm.Session{}).Order("date").Order("id").Find(&rep.Entries).Error; err != nil {
			return nil, fmt.Errorf("ledger: report entries %s: %w", month, err)
		}
	}
	return rep, nil
}
