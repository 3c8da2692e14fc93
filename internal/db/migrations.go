package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,

	// rut holds the clean form: digits followed by the verifier (0-9 or K)
	`CREATE TABLE IF NOT EXISTS persons (
		id          UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		rut         TEXT NOT NULL,
		first_name  TEXT NOT NULL,
		last_name   TEXT NOT NULL,
		email       TEXT,
		phone       TEXT,
		birth_date  DATE,
		region      TEXT,
		commune     TEXT,
		attributes  JSONB,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT persons_rut_clean CHECK (rut ~ '^[0-9]+[0-9K]$')
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_persons_rut ON persons(rut);`,
	`CREATE INDEX IF NOT EXISTS idx_persons_last_name ON persons(lower(last_name));`,
	`CREATE INDEX IF NOT EXISTS idx_persons_region_commune ON persons(region, commune);`,

	`CREATE TABLE IF NOT EXISTS person_import_batches (
		id           UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		file_name    TEXT NOT NULL,
		imported_by  UUID,
		total        INT NOT NULL DEFAULT 0,
		created      INT NOT NULL DEFAULT 0,
		updated      INT NOT NULL DEFAULT 0,
		rejected     INT NOT NULL DEFAULT 0,
		errors       JSONB,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_person_import_batches_created_at ON person_import_batches(created_at DESC);`,

	// Same algorithm as rut.CheckDigit, for ad hoc SQL and reports
	`CREATE OR REPLACE FUNCTION rut_check_digit(body TEXT)
	RETURNS TEXT AS $$
	DECLARE
		total  INT := 0;
		weight INT := 2;
		dv     INT;
	BEGIN
		IF body IS NULL OR body !~ '^[0-9]+$' THEN
			RETURN NULL;
		END IF;
		FOR i IN REVERSE length(body)..1 LOOP
			total := total + substr(body, i, 1)::INT * weight;
			weight := CASE WHEN weight = 7 THEN 2 ELSE weight + 1 END;
		END LOOP;
		dv := 11 - (total % 11);
		RETURN CASE dv WHEN 11 THEN '0' WHEN 10 THEN 'K' ELSE dv::TEXT END;
	END;
	$$ LANGUAGE plpgsql IMMUTABLE;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
