package service

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"registry-service/internal/rut"
)

const maxBatchSize = 500

type RUTService struct {
	log zerolog.Logger
}

func NewRUTService(log zerolog.Logger) *RUTService {
	return &RUTService{log: log}
}

type RUTCheck struct {
	Input      string `json:"input"`
	Clean      string `json:"clean"`
	Valid      bool   `json:"valid"`
	Formatted  string `json:"formatted,omitempty"`
	CheckDigit string `json:"check_digit,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Check validates raw and reports the expected check digit whenever the body is numeric.
func (s *RUTService) Check(raw string) RUTCheck {
	clean := rut.Clean(raw)
	result := RUTCheck{
		Input: raw,
		Clean: clean,
	}
	if len(clean) >= 2 {
		result.CheckDigit = rut.CheckDigit(clean[:len(clean)-1])
	}

	parsed, err := rut.Parse(raw)
	if err != nil {
		result.Reason = reason(err)
		return result
	}

	result.Valid = true
	result.Formatted = parsed.String()
	return result
}

func (s *RUTService) CheckBatch(raws []string) ([]RUTCheck, error) {
	if len(raws) == 0 {
		return nil, fmt.Errorf("%w: at least one value is required", ErrInvalidInput)
	}
	if len(raws) > maxBatchSize {
		return nil, fmt.Errorf("%w: batch exceeds %d values", ErrInvalidInput, maxBatchSize)
	}

	results := make([]RUTCheck, 0, len(raws))
	invalid := 0
	for _, raw := range raws {
		check := s.Check(raw)
		if !check.Valid {
			invalid++
		}
		results = append(results, check)
	}

	s.log.Debug().
		Int("total", len(raws)).
		Int("invalid", invalid).
		Msg("checked rut batch")

	return results, nil
}

func (s *RUTService) CheckDigit(body string) (string, error) {
	dv := rut.CheckDigit(body)
	if dv == "" {
		return "", fmt.Errorf("%w: body must be numeric", ErrInvalidInput)
	}
	return dv, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, rut.ErrEmpty):
		return "empty"
	case errors.Is(err, rut.ErrTooShort):
		return "too_short"
	case errors.Is(err, rut.ErrNonNumeric):
		return "non_numeric"
	case errors.Is(err, rut.ErrCheckDigit):
		return "check_digit_mismatch"
	default:
		return "invalid"
	}
}
