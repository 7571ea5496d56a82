package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/soltax/service/payment"
	"github.com/brojonat/soltax/service/solana"
)

// MaxRange is the longest date range a report may cover.
const MaxRange = 365 * 24 * time.Hour

// ValidationError rejects malformed input. Code is a short machine-readable
// reason and Message is shown to the caller.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Code + ": " + e.Message
}

func invalid(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ValidateAddress checks that address is a canonical base58 public key.
func ValidateAddress(address string) error {
	if strings.TrimSpace(address) == "" {
		return invalid("missing_wallet_address", "wallet address is required")
	}
	if !solana.ValidAddress(address) {
		return invalid("invalid_wallet_address", "please provide a valid Solana wallet address")
	}
	return nil
}

// ParseDateRange parses start and end as YYYY-MM-DD or RFC3339. A date-only
// end covers that whole day. The range must be ordered and at most MaxRange.
func ParseDateRange(start, end string) (payment.DateRange, error) {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return payment.DateRange{}, invalid("missing_date_range", "startDate and endDate are required")
	}
	s, _, err := parseDate(start)
	if err != nil {
		return payment.DateRange{}, invalid("invalid_date_format", "startDate must be YYYY-MM-DD or RFC3339, got %q", start)
	}
	e, dateOnly, err := parseDate(end)
	if err != nil {
		return payment.DateRange{}, invalid("invalid_date_format", "endDate must be YYYY-MM-DD or RFC3339, got %q", end)
	}
	if s.After(e) {
		return payment.DateRange{}, invalid("invalid_date_range", "startDate must be before endDate")
	}
	if e.Sub(s) > MaxRange {
		return payment.DateRange{}, errRangeTooLarge
	}
	if dateOnly {
		e = e.Add(24*time.Hour - time.Nanosecond)
	}
	return payment.DateRange{Start: s, End: e}, nil
}

var errRangeTooLarge = invalid("date_range_too_large", "date range cannot exceed 365 days")

// ValidateDateRange checks a parsed range: both bounds set, ordered, and at
// most MaxRange plus the final day that a date-only end expands to.
func ValidateDateRange(dr payment.DateRange) error {
	if dr.Start.IsZero() || dr.End.IsZero() {
		return invalid("missing_date_range", "startDate and endDate are required")
	}
	if dr.Start.After(dr.End) {
		return invalid("invalid_date_range", "startDate must be before endDate")
	}
	if dr.End.Sub(dr.Start) >= MaxRange+24*time.Hour {
		return errRangeTooLarge
	}
	return nil
}

// ParseExportType validates an export format name.
func ParseExportType(format string) (payment.ExportType, error) {
	t, err := payment.ParseExportType(format)
	if err != nil {
		return "", invalid("invalid_export_format", "export format must be csv or pdf, got %q", format)
	}
	return t, nil
}

func parseDate(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), false, nil
}
