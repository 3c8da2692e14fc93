package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"registry-service/internal/domain/person"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// listOrder ends on the unique rut so paging is stable across ties.
const listOrder = "last_name ASC, first_name ASC, rut ASC"

var updateColumns = []string{"first_name", "last_name", "email", "phone", "birth_date", "region", "commune", "attributes", "updated_at"}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

type txKey struct{}

type PersonRepository struct {
	db *gorm.DB
}

func NewPersonRepository(db *gorm.DB) *PersonRepository {
	return &PersonRepository{db: db}
}

// WithinTransaction runs fn in one database transaction. Repository calls made
// with the context passed to fn join that transaction.
func (r *PersonRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (r *PersonRepository) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return r.conn(ctx)
}

func (Person) TableName() string {
	return "persons"
}

func (ImportBatch) TableName() string {
	return "person_import_batches"
}

type Person struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	RUT        string    `gorm:"column:rut;not null;uniqueIndex"`
	FirstName  string    `gorm:"not null"`
	LastName   string    `gorm:"not null"`
	Email      *string
	Phone      *string
	BirthDate  *time.Time `gorm:"type:date"`
	Region     *string
	Commune    *string
	Attributes datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ImportBatch struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	FileName   string     `gorm:"not null"`
	ImportedBy *uuid.UUID `gorm:"type:uuid"`
	Total      int
	Created    int
	Updated    int
	Rejected   int
	Errors     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time
}

func (r *PersonRepository) Create(ctx context.Context, p *person.Person) error {
	row, err := toRow(p)
	if err != nil {
		return err
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	now := time.Now()
	row.CreatedAt = now
	row.UpdatedAt = now

	if err := r.conn(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: rut %s", ErrDuplicate, p.RUT)
		}
		return fmt.Errorf("failed to create person: %w", err)
	}

	created, err := fromRow(row)
	if err != nil {
		return err
	}
	*p = created
	return nil
}

func (r *PersonRepository) GetByID(ctx context.Context, id uuid.UUID) (*person.Person, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *PersonRepository) GetByRUT(ctx context.Context, rut string) (*person.Person, error) {
	return r.first(ctx, "rut = ?", rut)
}

func (r *PersonRepository) first(ctx context.Context, query string, arg interface{}) (*person.Person, error) {
	var row Person
	err := r.conn(ctx).Where(query, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PersonRepository) Update(ctx context.Context, p *person.Person) error {
	row, err := toRow(p)
	if err != nil {
		return err
	}
	row.UpdatedAt = time.Now()

	result := updateQuery(r.conn(ctx), row)
	if result.Error != nil {
		return fmt.Errorf("failed to update person: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	p.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *PersonRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.conn(ctx).Where("id = ?", id).Delete(&Person{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PersonRepository) List(ctx context.Context, filter person.Filter) ([]person.Person, int64, error) {
	query := filterQuery(r.conn(ctx).Model(&Person{}), filter).Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []Person
	if err := pageQuery(query, filter).Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	result := make([]person.Person, 0, len(rows))
	for _, row := range rows {
		p, err := fromRow(row)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, p)
	}
	return result, total, nil
}

func filterQuery(query *gorm.DB, filter person.Filter) *gorm.DB {
	if q := strings.TrimSpace(filter.Query); q != "" {
		escaped := likeEscaper.Replace(q)
		like := "%" + strings.ToLower(escaped) + "%"
		query = query.Where(
			`lower(first_name) LIKE ? ESCAPE '\' OR lower(last_name) LIKE ? ESCAPE '\' OR rut LIKE ? ESCAPE '\'`,
			like, like, strings.ToUpper(escaped)+"%",
		)
	}
	if filter.Region != "" {
		query = query.Where("region = ?", filter.Region)
	}
	if filter.Commune != "" {
		query = query.Where("commune = ?", filter.Commune)
	}
	return query
}

func pageQuery(query *gorm.DB, filter person.Filter) *gorm.DB {
	query = query.Order(listOrder)
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	return query
}

// updateQuery writes every editable column, so cleared optional fields become
// NULL. The rut column is never part of an update.
func updateQuery(db *gorm.DB, row Person) *gorm.DB {
	return db.Model(&Person{}).
		Where("id = ?", row.ID).
		Select(updateColumns).
		Updates(&row)
}

// UpsertByRUT inserts p or overwrites the row with the same RUT.
func (r *PersonRepository) UpsertByRUT(ctx context.Context, p *person.Person) (bool, error) {
	created := false
	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Person
		err := tx.Where("rut = ?", p.RUT).First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row, convErr := toRow(p)
		if convErr != nil {
			return convErr
		}
		now := time.Now()
		row.UpdatedAt = now

		if errors.Is(err, gorm.ErrRecordNotFound) {
			row.ID = uuid.New()
			row.CreatedAt = now
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			created = true
		} else {
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}

		stored, err := fromRow(row)
		if err != nil {
			return err
		}
		*p = stored
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to upsert person: %w", err)
	}
	return created, nil
}

func (r *PersonRepository) SaveImportBatch(ctx context.Context, fileName string, importedBy *uuid.UUID, result *person.ImportResult) error {
	raw, err := json.Marshal(result.Errors)
	if err != nil {
		return fmt.Errorf("marshal import errors: %w", err)
	}

	batch := ImportBatch{
		ID:         uuid.New(),
		FileName:   fileName,
		ImportedBy: importedBy,
		Total:      result.Total,
		Created:    result.Created,
		Updated:    result.Updated,
		Rejected:   result.Rejected,
		Errors:     datatypes.JSON(raw),
		CreatedAt:  time.Now(),
	}
	if err := r.conn(ctx).Create(&batch).Error; err != nil {
		return fmt.Errorf("failed to save import batch: %w", err)
	}

	result.BatchID = batch.ID
	return nil
}

func toRow(p *person.Person) (Person, error) {
	row := Person{
		ID:        p.ID,
		RUT:       p.RUT,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		BirthDate: p.BirthDate,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.Email != "" {
		row.Email = &p.Email
	}
	if p.Phone != "" {
		row.Phone = &p.Phone
	}
	if p.Region != "" {
		row.Region = &p.Region
	}
	if p.Commune != "" {
		row.Commune = &p.Commune
	}
	if len(p.Attributes) > 0 {
		raw, err := json.Marshal(p.Attributes)
		if err != nil {
			return Person{}, fmt.Errorf("marshal attributes: %w", err)
		}
		row.Attributes = datatypes.JSON(raw)
	}
	return row, nil
}

func fromRow(row Person) (person.Person, error) {
	p := person.Person{
		ID:        row.ID,
		RUT:       row.RUT,
		FirstName: row.FirstName,
		LastName:  row.LastName,
		BirthDate: row.BirthDate,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Email != nil {
		p.Email = *row.Email
	}
	if row.Phone != nil {
		p.Phone = *row.Phone
	}
	if row.Region != nil {
		p.Region = *row.Region
	}
	if row.Commune != nil {
		p.Commune = *row.Commune
	}
	if len(row.Attributes) > 0 {
		if err := json.Unmarshal(row.Attributes, &p.Attributes); err != nil {
			return person.Person{}, fmt.Errorf("decode attributes of person %s: %w", row.ID, err)
		}
	}
	return p, nil
}
