package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"registry-service/internal/domain/person"
)

// MemoryPersonRepository keeps persons in process memory. It backs local
// runs with DB_DSN=memory:// and the service tests.
type MemoryPersonRepository struct {
	mu      sync.RWMutex
	persons map[uuid.UUID]person.Person
	batches []ImportBatch
}

func NewMemoryPersonRepository() *MemoryPersonRepository {
	return &MemoryPersonRepository{persons: make(map[uuid.UUID]person.Person)}
}

// WithinTransaction runs fn and restores the previous contents when fn fails.
// Writes made concurrently by other callers are lost on rollback.
func (r *MemoryPersonRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.RLock()
	persons := make(map[uuid.UUID]person.Person, len(r.persons))
	for id, p := range r.persons {
		persons[id] = p
	}
	batches := len(r.batches)
	r.mu.RUnlock()

	if err := fn(ctx); err != nil {
		r.mu.Lock()
		r.persons = persons
		r.batches = r.batches[:batches]
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryPersonRepository) Create(_ context.Context, p *person.Person) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.findByRUT(p.RUT); ok {
		return fmt.Errorf("%w: rut %s", ErrDuplicate, p.RUT)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	r.persons[p.ID] = *p
	return nil
}

func (r *MemoryPersonRepository) GetByID(_ context.Context, id uuid.UUID) (*person.Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.persons[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryPersonRepository) GetByRUT(_ context.Context, rut string) (*person.Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.findByRUT(rut)
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryPersonRepository) Update(_ context.Context, p *person.Person) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.persons[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.RUT = existing.RUT
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()
	r.persons[p.ID] = *p
	return nil
}

func (r *MemoryPersonRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.persons[id]; !ok {
		return ErrNotFound
	}
	delete(r.persons, id)
	return nil
}

func (r *MemoryPersonRepository) List(_ context.Context, filter person.Filter) ([]person.Person, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(filter.Query))
	matched := make([]person.Person, 0, len(r.persons))
	for _, p := range r.persons {
		if q != "" &&
			!strings.Contains(strings.ToLower(p.FirstName), q) &&
			!strings.Contains(strings.ToLower(p.LastName), q) &&
			!strings.HasPrefix(p.RUT, strings.ToUpper(q)) {
			continue
		}
		if filter.Region != "" && p.Region != filter.Region {
			continue
		}
		if filter.Commune != "" && p.Commune != filter.Commune {
			continue
		}
		matched = append(matched, p)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].LastName != matched[j].LastName {
			return matched[i].LastName < matched[j].LastName
		}
		if matched[i].FirstName != matched[j].FirstName {
			return matched[i].FirstName < matched[j].FirstName
		}
		return matched[i].RUT < matched[j].RUT
	})

	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []person.Person{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (r *MemoryPersonRepository) UpsertByRUT(_ context.Context, p *person.Person) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	p.UpdatedAt = now
	if existing, ok := r.findByRUT(p.RUT); ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		r.persons[p.ID] = *p
		return false, nil
	}

	p.ID = uuid.New()
	p.CreatedAt = now
	r.persons[p.ID] = *p
	return true, nil
}

func (r *MemoryPersonRepository) SaveImportBatch(_ context.Context, fileName string, importedBy *uuid.UUID, result *person.ImportResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := ImportBatch{
		ID:         uuid.New(),
		FileName:   fileName,
		ImportedBy: importedBy,
		Total:      result.Total,
		Created:    result.Created,
		Updated:    result.Updated,
		Rejected:   result.Rejected,
		CreatedAt:  time.Now(),
	}
	r.batches = append(r.batches, batch)
	result.BatchID = batch.ID
	return nil
}

// ImportBatches returns a copy of the recorded import summaries.
func (r *MemoryPersonRepository) ImportBatches() []ImportBatch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ImportBatch(nil), r.batches...)
}

func (r *MemoryPersonRepository) findByRUT(rut string) (person.Person, bool) {
	for _, p := range r.persons {
		if p.RUT == rut {
			return p, true
		}
	}
	return person.Person{}, false
}
