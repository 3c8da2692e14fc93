package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registry-service/internal/config"
	"registry-service/internal/domain/person"
	"registry-service/internal/repository"
	"registry-service/internal/rut"
	"registry-service/internal/sheet"
	"registry-service/internal/storage"
)

type fakeUploader struct {
	key         string
	contentType string
	size        int
	err         error
}

func (u *fakeUploader) Upload(_ context.Context, key string, content []byte, contentType string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.key = key
	u.contentType = contentType
	u.size = len(content)
	return "https://files.example.cl/" + key, nil
}

// failingStore fails the upsert after failAfter successful calls.
type failingStore struct {
	*repository.MemoryPersonRepository
	failAfter int
	calls     int
}

func (s *failingStore) UpsertByRUT(ctx context.Context, p *person.Person) (bool, error) {
	s.calls++
	if s.calls > s.failAfter {
		return false, errors.New("connection reset")
	}
	return s.MemoryPersonRepository.UpsertByRUT(ctx, p)
}

func newTestPersonService(t *testing.T, uploader Uploader) (*PersonService, *repository.MemoryPersonRepository) {
	t.Helper()
	store := repository.NewMemoryPersonRepository()
	svc := NewPersonService(store, uploader, config.RegistryConfig{
		ExportPrefix:  "/exports/persons/",
		ImportMaxRows: 10,
	}, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, time.October, 17, 12, 30, 0, 0, time.UTC) }
	return svc, store
}

func TestPersonServiceCreate(t *testing.T) {
	svc, _ := newTestPersonService(t, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, person.CreatePayload{
		RUT:       "12.345.678-5",
		FirstName: "  juan  ",
		LastName:  "PÉREZ soto",
		Email:     " Juan@Example.CL ",
		Phone:     "+56 9 1234 5678",
		BirthDate: "2010-07-04",
		Commune:   " Ñuñoa ",
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "123456785", created.RUT)
	assert.Equal(t, "12.345.678-5", created.RUTFormatted)
	assert.Equal(t, "Juan", created.FirstName)
	assert.Equal(t, "Pérez Soto", created.LastName)
	assert.Equal(t, "juan@example.cl", created.Email)
	assert.Equal(t, "+56912345678", created.Phone)
	assert.Equal(t, "Ñuñoa", created.Commune)
	require.NotNil(t, created.BirthDate)
	assert.Equal(t, "2010-07-04", created.BirthDate.Format(person.DateLayout))
	assert.True(t, created.Minor)

	_, err = svc.Create(ctx, person.CreatePayload{RUT: "12345678-5", FirstName: "Otro", LastName: "Nombre"})
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestPersonServiceCreateValidation(t *testing.T) {
	svc, _ := newTestPersonService(t, nil)

	tests := []struct {
		name    string
		payload person.CreatePayload
	}{
		{name: "bad check digit", payload: person.CreatePayload{RUT: "12345678-4", FirstName: "A", LastName: "B"}},
		{name: "empty rut", payload: person.CreatePayload{FirstName: "A", LastName: "B"}},
		{name: "missing first name", payload: person.CreatePayload{RUT: "12345678-5", LastName: "B"}},
		{name: "missing last name", payload: person.CreatePayload{RUT: "12345678-5", FirstName: "A"}},
		{name: "bad email", payload: person.CreatePayload{RUT: "12345678-5", FirstName: "A", LastName: "B", Email: "nope"}},
		{name: "bad birth date", payload: person.CreatePayload{RUT: "12345678-5", FirstName: "A", LastName: "B", BirthDate: "ayer"}},
		{name: "future birth date", payload: person.CreatePayload{RUT: "12345678-5", FirstName: "A", LastName: "B", BirthDate: "2999-01-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.payload)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
		})
	}
}

func TestPersonServiceGetUpdateDelete(t *testing.T) {
	svc, _ := newTestPersonService(t, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, person.CreatePayload{RUT: "10000013-k", FirstName: "ana", LastName: "soto"})
	require.NoError(t, err)

	byRUT, err := svc.GetByRUT(ctx, "10.000.013-K")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byRUT.ID)

	_, err = svc.GetByRUT(ctx, "10000013-1")
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = svc.GetByRUT(ctx, "12345678-5")
	assert.True(t, errors.Is(err, ErrNotFound))

	region := "Valparaíso"
	blank := "  "
	updated, err := svc.Update(ctx, created.ID, person.UpdatePayload{Region: &region})
	require.NoError(t, err)
	assert.Equal(t, "Valparaíso", updated.Region)
	assert.Equal(t, "10000013K", updated.RUT)

	_, err = svc.Update(ctx, created.ID, person.UpdatePayload{FirstName: &blank})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = svc.Update(ctx, uuid.New(), person.UpdatePayload{Region: &region})
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(svc.Delete(ctx, created.ID), ErrNotFound))
}

func TestPersonServiceList(t *testing.T) {
	svc, _ := newTestPersonService(t, nil)
	ctx := context.Background()

	for _, payload := range []person.CreatePayload{
		{RUT: "12345678-5", FirstName: "Juan", LastName: "Pérez", Commune: "Ñuñoa"},
		{RUT: "10000013-K", FirstName: "Ana", LastName: "Soto", Commune: "Maipú"},
		{RUT: "11111111-1", FirstName: "Luis", LastName: "Araya", Commune: "Ñuñoa"},
	} {
		_, err := svc.Create(ctx, payload)
		require.NoError(t, err)
	}

	result, err := svc.List(ctx, person.Filter{Limit: 500, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Total)
	assert.Equal(t, maxListLimit, result.Limit)
	assert.Equal(t, 0, result.Offset)
	require.Len(t, result.Items, 3)
	assert.Equal(t, "Araya", result.Items[0].LastName)
	assert.Equal(t, "11.111.111-1", result.Items[0].RUTFormatted)

	result, err = svc.List(ctx, person.Filter{Commune: "Ñuñoa", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Total)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "Araya", result.Items[0].LastName)

	result, err = svc.List(ctx, person.Filter{Query: "sot"})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "Ana", result.Items[0].FirstName)
}

func TestPersonServiceImport(t *testing.T) {
	svc, store := newTestPersonService(t, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, person.CreatePayload{RUT: "11111111-1", FirstName: "Luis", LastName: "Araya"})
	require.NoError(t, err)

	importer := uuid.New()
	rows := []person.ImportRow{
		{Line: 2, CreatePayload: person.CreatePayload{RUT: "12.345.678-5", FirstName: "juan", LastName: "pérez"}},
		{Line: 3, CreatePayload: person.CreatePayload{RUT: "12345678-4", FirstName: "Mal", LastName: "Digito"}},
		{Line: 4, CreatePayload: person.CreatePayload{RUT: "11111111-1", FirstName: "Luis", LastName: "Araya Rojas"}},
		{Line: 5, CreatePayload: person.CreatePayload{RUT: "123456785", FirstName: "Juan", LastName: "Repetido"}},
		{Line: 6, CreatePayload: person.CreatePayload{RUT: "10000013-K", LastName: "Sin Nombre"}},
	}

	result, err := svc.Import(ctx, "tropa.xlsx", &importer, rows)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 3, result.Rejected)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, 3, result.Errors[0].Row)
	assert.Equal(t, "invalid rut: check digit mismatch", result.Errors[0].Error)
	assert.Equal(t, 5, result.Errors[1].Row)
	assert.Equal(t, "duplicate rut, first seen on row 2", result.Errors[1].Error)
	assert.Equal(t, 6, result.Errors[2].Row)
	assert.NotEqual(t, uuid.Nil, result.BatchID)

	updated, err := svc.GetByRUT(ctx, "11111111-1")
	require.NoError(t, err)
	assert.Equal(t, "Araya Rojas", updated.LastName)

	batches := store.ImportBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, "tropa.xlsx", batches[0].FileName)
	assert.Equal(t, &importer, batches[0].ImportedBy)
}

func TestPersonServiceImportLimits(t *testing.T) {
	svc, _ := newTestPersonService(t, nil)

	_, err := svc.Import(context.Background(), "empty.xlsx", nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	rows := make([]person.ImportRow, 11)
	_, err = svc.Import(context.Background(), "big.xlsx", nil, rows)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = svc.ImportWorkbook(context.Background(), "broken.xlsx", nil, bytes.NewReader([]byte("nope")))
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestPersonServiceExportInline(t *testing.T) {
	svc, _ := newTestPersonService(t, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, person.CreatePayload{RUT: "12345678-5", FirstName: "Juan", LastName: "Pérez"})
	require.NoError(t, err)

	result, err := svc.Export(ctx, person.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "personas-20261017-123000.xlsx", result.FileName)
	assert.Equal(t, 1, result.Count)
	assert.Empty(t, result.URL)

	rows, err := sheet.ReadPersons(bytes.NewReader(result.Content))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "12.345.678-5", rows[0].RUT)
}

func TestPersonServiceExportUpload(t *testing.T) {
	uploader := &fakeUploader{}
	svc, _ := newTestPersonService(t, uploader)
	ctx := context.Background()

	_, err := svc.Create(ctx, person.CreatePayload{RUT: "12345678-5", FirstName: "Juan", LastName: "Pérez"})
	require.NoError(t, err)

	result, err := svc.Export(ctx, person.Filter{})
	require.NoError(t, err)
	assert.Nil(t, result.Content)
	assert.Equal(t, "https://files.example.cl/"+uploader.key, result.URL)
	assert.Contains(t, uploader.key, "exports/persons/")
	assert.Contains(t, uploader.key, "personas-20261017-123000.xlsx")
	assert.Equal(t, XLSXContentType, uploader.contentType)
	assert.Positive(t, uploader.size)

	uploader.err = storage.ErrNotConfigured
	result, err = svc.Export(ctx, person.Filter{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Content)

	uploader.err = errors.New("boom")
	_, err = svc.Export(ctx, person.Filter{})
	assert.Error(t, err)
}

func TestPersonServiceImportRollsBackOnStoreFailure(t *testing.T) {
	store := &failingStore{MemoryPersonRepository: repository.NewMemoryPersonRepository(), failAfter: 1}
	svc := NewPersonService(store, nil, config.RegistryConfig{ImportMaxRows: 10}, zerolog.Nop())
	ctx := context.Background()

	rows := []person.ImportRow{
		{Line: 2, CreatePayload: person.CreatePayload{RUT: "12345678-5", FirstName: "Juan", LastName: "Pérez"}},
		{Line: 3, CreatePayload: person.CreatePayload{RUT: "11111111-1", FirstName: "Luis", LastName: "Araya"}},
	}

	_, err := svc.Import(ctx, "tropa.xlsx", nil, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 3")

	_, total, err := store.List(ctx, person.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, store.ImportBatches())
}

func TestPersonServiceExportIncludesEveryPersonWithSameName(t *testing.T) {
	svc, store := newTestPersonService(t, nil)
	ctx := context.Background()

	const count = exportPageSize*2 + 200
	for i := 0; i < count; i++ {
		body := fmt.Sprintf("%d", 20000000+i)
		require.NoError(t, store.Create(ctx, &person.Person{
			RUT:       body + rut.CheckDigit(body),
			FirstName: "Ana",
			LastName:  "Soto",
		}))
	}

	result, err := svc.Export(ctx, person.Filter{})
	require.NoError(t, err)
	assert.Equal(t, count, result.Count)

	rows, err := sheet.ReadPersons(bytes.NewReader(result.Content))
	require.NoError(t, err)
	require.Len(t, rows, count)

	unique := make(map[string]struct{}, count)
	for _, row := range rows {
		unique[row.RUT] = struct{}{}
	}
	assert.Len(t, unique, count)
}
