package person

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const adultAge = 18

type Person struct {
	ID           uuid.UUID              `json:"id"`
	RUT          string                 `json:"rut"`
	RUTFormatted string                 `json:"rut_formatted"`
	FirstName    string                 `json:"first_name"`
	LastName     string                 `json:"last_name"`
	Email        string                 `json:"email,omitempty"`
	Phone        string                 `json:"phone,omitempty"`
	BirthDate    *time.Time             `json:"birth_date,omitempty"`
	Region       string                 `json:"region,omitempty"`
	Commune      string                 `json:"commune,omitempty"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
	Minor        bool                   `json:"is_minor"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// DateLayout is the wire format of birth dates in payloads.
const DateLayout = "2006-01-02"

type CreatePayload struct {
	RUT        string                 `json:"rut"`
	FirstName  string                 `json:"first_name"`
	LastName   string                 `json:"last_name"`
	Email      string                 `json:"email,omitempty"`
	Phone      string                 `json:"phone,omitempty"`
	BirthDate  string                 `json:"birth_date,omitempty"`
	Region     string                 `json:"region,omitempty"`
	Commune    string                 `json:"commune,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// UpdatePayload carries a partial update; nil fields are left untouched.
type UpdatePayload struct {
	FirstName  *string                `json:"first_name,omitempty"`
	LastName   *string                `json:"last_name,omitempty"`
	Email      *string                `json:"email,omitempty"`
	Phone      *string                `json:"phone,omitempty"`
	BirthDate  *string                `json:"birth_date,omitempty"`
	Region     *string                `json:"region,omitempty"`
	Commune    *string                `json:"commune,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

type Filter struct {
	Query   string
	Region  string
	Commune string
	Limit   int
	Offset  int
}

// ImportRow is one spreadsheet line; Line is 1-based and counts the header.
type ImportRow struct {
	Line int
	CreatePayload
}

type RowError struct {
	Row   int    `json:"row"`
	RUT   string `json:"rut"`
	Error string `json:"error"`
}

type ImportResult struct {
	BatchID  uuid.UUID  `json:"batch_id"`
	Total    int        `json:"total"`
	Created  int        `json:"created"`
	Updated  int        `json:"updated"`
	Rejected int        `json:"rejected"`
	Errors   []RowError `json:"errors"`
}

type ExportResult struct {
	FileName string `json:"file_name"`
	URL      string `json:"url,omitempty"`
	Count    int    `json:"count"`
	Content  []byte `json:"-"`
}

// IsMinor reports whether someone born on birthDate is younger than 18 at now.
func IsMinor(birthDate, now time.Time) bool {
	years := now.Year() - birthDate.Year()
	if now.Month() < birthDate.Month() || (now.Month() == birthDate.Month() && now.Day() < birthDate.Day()) {
		years--
	}
	return years < adultAge
}

func (p Person) IsMinor(now time.Time) bool {
	if p.BirthDate == nil {
		return false
	}
	return IsMinor(*p.BirthDate, now)
}

var dateLayouts = []string{
	DateLayout,
	"02-01-2006",
	"02/01/2006",
	"2006/01/02",
}

// ParseDate accepts ISO dates as well as the day-first forms common in Chilean spreadsheets.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}
