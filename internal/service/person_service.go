package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"registry-service/internal/config"
	"registry-service/internal/domain/person"
	"registry-service/internal/repository"
	"registry-service/internal/rut"
	"registry-service/internal/sheet"
	"registry-service/internal/storage"
	"registry-service/internal/utils"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
	exportPageSize   = 500
)

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type PersonStore interface {
	Create(ctx context.Context, p *person.Person) error
	GetByID(ctx context.Context, id uuid.UUID) (*person.Person, error)
	GetByRUT(ctx context.Context, rut string) (*person.Person, error)
	Update(ctx context.Context, p *person.Person) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter person.Filter) ([]person.Person, int64, error)
	UpsertByRUT(ctx context.Context, p *person.Person) (bool, error)
	SaveImportBatch(ctx context.Context, fileName string, importedBy *uuid.UUID, result *person.ImportResult) error
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Uploader interface {
	Upload(ctx context.Context, key string, content []byte, contentType string) (string, error)
}

type PersonService struct {
	store         PersonStore
	uploader      Uploader
	log           zerolog.Logger
	exportPrefix  string
	importMaxRows int
	now           func() time.Time
}

// NewPersonService wires the person registry. uploader may be nil, in which
// case exports are returned inline.
func NewPersonService(store PersonStore, uploader Uploader, cfg config.RegistryConfig, log zerolog.Logger) *PersonService {
	return &PersonService{
		store:         store,
		uploader:      uploader,
		log:           log,
		exportPrefix:  strings.Trim(cfg.ExportPrefix, "/"),
		importMaxRows: cfg.ImportMaxRows,
		now:           time.Now,
	}
}

type ListResult struct {
	Items  []person.Person `json:"items"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (s *PersonService) Create(ctx context.Context, payload person.CreatePayload) (*person.Person, error) {
	p, err := s.buildPerson(payload)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: person with rut %s already exists", ErrConflict, p.RUTFormatted)
		}
		s.log.Error().Err(err).Str("rut", p.RUT).Msg("failed to create person")
		return nil, fmt.Errorf("failed to create person: %w", err)
	}

	s.log.Info().
		Str("person_id", p.ID.String()).
		Str("rut", p.RUT).
		Msg("person created")

	return s.decorate(p), nil
}

func (s *PersonService) Get(ctx context.Context, id uuid.UUID) (*person.Person, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "person")
	}
	return s.decorate(p), nil
}

func (s *PersonService) GetByRUT(ctx context.Context, raw string) (*person.Person, error) {
	parsed, err := rut.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	p, err := s.store.GetByRUT(ctx, parsed.Body+parsed.Verifier)
	if err != nil {
		return nil, translateStoreError(err, "person")
	}
	return s.decorate(p), nil
}

// Update applies a partial update. The RUT of a person cannot change.
func (s *PersonService) Update(ctx context.Context, id uuid.UUID, payload person.UpdatePayload) (*person.Person, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "person")
	}

	if payload.FirstName != nil {
		p.FirstName = utils.NormalizeName(*payload.FirstName)
	}
	if payload.LastName != nil {
		p.LastName = utils.NormalizeName(*payload.LastName)
	}
	if payload.Email != nil {
		p.Email = utils.NormalizeEmail(*payload.Email)
	}
	if payload.Phone != nil {
		p.Phone = utils.NormalizePhone(*payload.Phone)
	}
	if payload.Region != nil {
		p.Region = utils.SanitizeText(*payload.Region)
	}
	if payload.Commune != nil {
		p.Commune = utils.SanitizeText(*payload.Commune)
	}
	if payload.BirthDate != nil {
		birthDate, err := parseBirthDate(*payload.BirthDate)
		if err != nil {
			return nil, err
		}
		p.BirthDate = birthDate
	}
	if payload.Attributes != nil {
		p.Attributes = payload.Attributes
	}

	if err := validatePerson(p); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, p); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: person", ErrNotFound)
		}
		s.log.Error().Err(err).Str("person_id", id.String()).Msg("failed to update person")
		return nil, fmt.Errorf("failed to update person: %w", err)
	}

	s.log.Info().Str("person_id", id.String()).Msg("person updated")
	return s.decorate(p), nil
}

func (s *PersonService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return translateStoreError(err, "person")
	}
	s.log.Info().Str("person_id", id.String()).Msg("person deleted")
	return nil
}

func (s *PersonService) List(ctx context.Context, filter person.Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Query = utils.SanitizeText(filter.Query)
	filter.Region = utils.SanitizeText(filter.Region)
	filter.Commune = utils.SanitizeText(filter.Commune)

	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list persons: %w", err)
	}
	for i := range items {
		s.decorate(&items[i])
	}

	return &ListResult{
		Items:  items,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// ImportWorkbook reads an xlsx roster and imports its rows.
func (s *PersonService) ImportWorkbook(ctx context.Context, fileName string, importedBy *uuid.UUID, r io.Reader) (*person.ImportResult, error) {
	rows, err := sheet.ReadPersons(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.Import(ctx, fileName, importedBy, rows)
}

// Import upserts rows by RUT. Invalid rows are reported and skipped. The
// upserts and the batch record commit together; a store failure rolls the
// whole import back.
func (s *PersonService) Import(ctx context.Context, fileName string, importedBy *uuid.UUID, rows []person.ImportRow) (*person.ImportResult, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows to import", ErrInvalidInput)
	}
	if s.importMaxRows > 0 && len(rows) > s.importMaxRows {
		return nil, fmt.Errorf("%w: import exceeds %d rows", ErrInvalidInput, s.importMaxRows)
	}

	var result *person.ImportResult
	err := s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.importRows(ctx, fileName, rows)
		if err != nil {
			return err
		}
		if err := s.store.SaveImportBatch(ctx, fileName, importedBy, result); err != nil {
			return fmt.Errorf("failed to save import batch: %w", err)
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("file_name", fileName).Msg("person import rolled back")
		return nil, err
	}

	s.log.Info().
		Str("batch_id", result.BatchID.String()).
		Str("file_name", fileName).
		Int("total", result.Total).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("rejected", result.Rejected).
		Msg("person import finished")

	return result, nil
}

func (s *PersonService) importRows(ctx context.Context, fileName string, rows []person.ImportRow) (*person.ImportResult, error) {
	result := &person.ImportResult{
		Total:  len(rows),
		Errors: make([]person.RowError, 0),
	}
	seen := make(map[string]int, len(rows))

	for _, row := range rows {
		p, err := s.buildPerson(row.CreatePayload)
		if err != nil {
			result.Rejected++
			result.Errors = append(result.Errors, person.RowError{
				Row:   row.Line,
				RUT:   row.RUT,
				Error: strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": "),
			})
			continue
		}

		if firstLine, dup := seen[p.RUT]; dup {
			result.Rejected++
			result.Errors = append(result.Errors, person.RowError{
				Row:   row.Line,
				RUT:   row.RUT,
				Error: fmt.Sprintf("duplicate rut, first seen on row %d", firstLine),
			})
			continue
		}
		seen[p.RUT] = row.Line

		created, err := s.store.UpsertByRUT(ctx, p)
		if err != nil {
			s.log.Error().
				Err(err).
				Str("file_name", fileName).
				Int("row", row.Line).
				Msg("failed to import person")
			return nil, fmt.Errorf("failed to import row %d: %w", row.Line, err)
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

// Export renders every person matching filter as xlsx. When an uploader is
// configured the workbook is stored and its URL returned; otherwise the
// content is returned inline.
func (s *PersonService) Export(ctx context.Context, filter person.Filter) (*person.ExportResult, error) {
	filter.Limit = exportPageSize
	filter.Offset = 0

	var all []person.Person
	for {
		page, total, err := s.store.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list persons for export: %w", err)
		}
		all = append(all, page...)
		if len(page) < filter.Limit || int64(len(all)) >= total {
			break
		}
		filter.Offset += len(page)
	}

	content, err := sheet.WritePersons(all)
	if err != nil {
		return nil, fmt.Errorf("failed to render export: %w", err)
	}

	fileName := fmt.Sprintf("personas-%s.xlsx", s.now().UTC().Format("20060102-150405"))
	result := &person.ExportResult{
		FileName: fileName,
		Count:    len(all),
		Content:  content,
	}

	if s.uploader == nil {
		return result, nil
	}

	key := fmt.Sprintf("%s/%s-%s", s.exportPrefix, uuid.NewString()[:8], fileName)
	url, err := s.uploader.Upload(ctx, key, content, XLSXContentType)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			return result, nil
		}
		s.log.Error().Err(err).Str("key", key).Msg("failed to upload export")
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}

	s.log.Info().
		Str("key", key).
		Int("count", result.Count).
		Msg("person export uploaded")

	result.URL = url
	result.Content = nil
	return result, nil
}

func (s *PersonService) buildPerson(payload person.CreatePayload) (*person.Person, error) {
	parsed, err := rut.Parse(payload.RUT)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	p := &person.Person{
		RUT:        parsed.Body + parsed.Verifier,
		FirstName:  utils.NormalizeName(payload.FirstName),
		LastName:   utils.NormalizeName(payload.LastName),
		Email:      utils.NormalizeEmail(payload.Email),
		Phone:      utils.NormalizePhone(payload.Phone),
		Region:     utils.SanitizeText(payload.Region),
		Commune:    utils.SanitizeText(payload.Commune),
		Attributes: payload.Attributes,
	}
	if strings.TrimSpace(payload.BirthDate) != "" {
		birthDate, err := parseBirthDate(payload.BirthDate)
		if err != nil {
			return nil, err
		}
		p.BirthDate = birthDate
	}

	if err := validatePerson(p); err != nil {
		return nil, err
	}
	return s.decorate(p), nil
}

func parseBirthDate(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := person.ParseDate(value)
	if err != nil {
		return nil, fmt.Errorf("%w: birth_date: %v", ErrInvalidInput, err)
	}
	if t.After(time.Now()) {
		return nil, fmt.Errorf("%w: birth_date is in the future", ErrInvalidInput)
	}
	return &t, nil
}

func validatePerson(p *person.Person) error {
	if p.FirstName == "" {
		return fmt.Errorf("%w: first_name is required", ErrInvalidInput)
	}
	if p.LastName == "" {
		return fmt.Errorf("%w: last_name is required", ErrInvalidInput)
	}
	if p.Email != "" && !strings.Contains(p.Email, "@") {
		return fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	return nil
}

func (s *PersonService) decorate(p *person.Person) *person.Person {
	if formatted, ok := rut.Format(p.RUT); ok {
		p.RUTFormatted = formatted
	}
	p.Minor = p.IsMinor(s.now())
	return p
}

func translateStoreError(err error, entity string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, entity)
	}
	return fmt.Errorf("failed to load %s: %w", entity, err)
}
