package domain

import (
	"strings"
	"time"
	"unicode"
)

// CustomerStats holds aggregate counters maintained by the pipeline.
type CustomerStats struct {
	TotalConversations int        `json:"total_conversations"`
	TotalCases         int        `json:"total_cases"`
	OpenCases          int        `json:"open_cases"`
	WonCases           int        `json:"won_cases"`
	LostCases          int        `json:"lost_cases"`
	TotalValue         float64    `json:"total_value"`
	LastContactAt      *time.Time `json:"last_contact_at,omitempty"`
}

// Customer is an external party known to the CRM.
type Customer struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Company   string
	Stats     CustomerStats
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CustomerStatsDelta is applied with atomic increments, never read-modify-write.
type CustomerStatsDelta struct {
	TotalConversations int
	TotalCases         int
	OpenCases          int
	WonCases           int
	LostCases          int
	TotalValue         float64
	LastContactAt      *time.Time
}

// IsZero reports whether applying the delta would change nothing.
func (d CustomerStatsDelta) IsZero() bool {
	return d.TotalConversations == 0 && d.TotalCases == 0 && d.OpenCases == 0 &&
		d.WonCases == 0 && d.LostCases == 0 && d.TotalValue == 0 && d.LastContactAt == nil
}

// Sub returns d minus other. LastContactAt is taken from d.
func (d CustomerStatsDelta) Sub(other CustomerStatsDelta) CustomerStatsDelta {
	return CustomerStatsDelta{
		TotalConversations: d.TotalConversations - other.TotalConversations,
		TotalCases:         d.TotalCases - other.TotalCases,
		OpenCases:          d.OpenCases - other.OpenCases,
		WonCases:           d.WonCases - other.WonCases,
		LostCases:          d.LostCases - other.LostCases,
		TotalValue:         d.TotalValue - other.TotalValue,
		LastContactAt:      d.LastContactAt,
	}
}

// Apply adds the delta to s in place.
func (s *CustomerStats) Apply(d CustomerStatsDelta) {
	s.TotalConversations += d.TotalConversations
	s.TotalCases += d.TotalCases
	s.OpenCases += d.OpenCases
	s.WonCases += d.WonCases
	s.LostCases += d.LostCases
	s.TotalValue += d.TotalValue
	if d.LastContactAt != nil && (s.LastContactAt == nil || d.LastContactAt.After(*s.LastContactAt)) {
		at := *d.LastContactAt
		s.LastContactAt = &at
	}
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps digits and a leading plus sign.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}
