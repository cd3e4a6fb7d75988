package ledger

import "errors"

// ErrInvalidDate is returned when an entry date is not a calendar day in YYYY-MM-DD form.
var ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

// ErrMissingField is returned when buyer or type is empty.
var ErrMissingField = errors.New("missing required field")

// ErrInvalidValue is returned when the value is NaN or infinite.
var ErrInvalidValue = errors.New("invalid value, expected a finite number")
