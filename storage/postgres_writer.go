package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"inverter-report/models"
)

// PostgresWriter mirrors appended inverter records into PostgreSQL. Unlike the master
// file it keeps one row per (plant, device, date), the latest write winning.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 5; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS inverter_yields (
			id          SERIAL PRIMARY KEY,
			plant_name  TEXT          NOT NULL,
			device_name TEXT          NOT NULL,
			yield_kwh   NUMERIC(14,3),
			report_date DATE          NOT NULL,
			ingested_at TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			UNIQUE (plant_name, device_name, report_date)
		);

		CREATE INDEX IF NOT EXISTS idx_inverter_yields_date  ON inverter_yields(report_date);
		CREATE INDEX IF NOT EXISTS idx_inverter_yields_plant ON inverter_yields(plant_name);
	`)
	return err
}

// Write upserts records in batches.
func (pw *PostgresWriter) Write(ctx context.Context, records []models.CanonicalRecord) error {
	records = latestPerKey(records)
	if len(records) == 0 {
		return nil
	}

	const batchSize = 200
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := pw.upsertBatch(ctx, records[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (pw *PostgresWriter) upsertBatch(ctx context.Context, batch []models.CanonicalRecord) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*4)

	for idx, r := range batch {
		base := idx * 4
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4))
		valueArgs = append(valueArgs, r.PlantName, r.DeviceName, r.Yield, r.Date)
	}

	query := fmt.Sprintf(`
		INSERT INTO inverter_yields (plant_name, device_name, yield_kwh, report_date)
		VALUES %s
		ON CONFLICT (plant_name, device_name, report_date)
		DO UPDATE SET yield_kwh = EXCLUDED.yield_kwh, ingested_at = NOW()
	`, strings.Join(valueStrings, ","))

	if _, err := pw.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: upsert batch: %w", err)
	}
	return nil
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}

// latestPerKey keeps the last record for each key, in order of that last occurrence.
// A single INSERT ... ON CONFLICT DO UPDATE cannot touch the same row twice.
func latestPerKey(records []models.CanonicalRecord) []models.CanonicalRecord {
	last := make(map[models.Key]int, len(records))
	for i, r := range records {
		if r.PlantName == "" || r.DeviceName == "" || r.Date == "" {
			continue
		}
		last[r.Key()] = i
	}
	out := make([]models.CanonicalRecord, 0, len(last))
	for i, r := range records {
		if idx, ok := last[r.Key()]; ok && idx == i {
			out = append(out, r)
		}
	}
	return out
}
