// Package sqlite provides a SQLite-backed CatalogStore.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Import modernc.org/sqlite as a blank import to register the driver
	_ "modernc.org/sqlite"

	"github.com/ineyio/aidirector"
)

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed aidirector.CatalogStore.
type Store struct {
	db   *sql.DB
	path string
}

var _ aidirector.CatalogStore = (*Store)(nil)

// New opens (creating if needed) the database at path and initializes the schema.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("aidirector/sqlite: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("aidirector/sqlite: open database: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("aidirector/sqlite: connect to database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("aidirector/sqlite: execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) createSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS providers (
		name TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		base_url TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		default_model TEXT NOT NULL DEFAULT '',
		max_tokens INTEGER NOT NULL DEFAULT 0,
		temperature REAL NOT NULL DEFAULT 0,
		cost_per_1k_tokens REAL NOT NULL DEFAULT 0,
		models TEXT NOT NULL DEFAULT '[]'
	);
	CREATE TABLE IF NOT EXISTS models (
		provider TEXT NOT NULL,
		model_id TEXT NOT NULL,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		last_checked TEXT NOT NULL,
		capabilities TEXT,
		PRIMARY KEY (provider, model_id)
	);
	CREATE INDEX IF NOT EXISTS idx_models_provider_active ON models(provider, active);
	CREATE TABLE IF NOT EXISTS pricing (
		provider TEXT NOT NULL,
		model_id TEXT NOT NULL,
		input_price REAL NOT NULL,
		output_price REAL NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		unit TEXT NOT NULL DEFAULT 'per_1k_tokens',
		active INTEGER NOT NULL DEFAULT 1,
		last_updated TEXT NOT NULL,
		PRIMARY KEY (provider, model_id)
	);
	CREATE TABLE IF NOT EXISTS free_tiers (
		provider TEXT NOT NULL,
		model_id TEXT NOT NULL,
		is_free INTEGER NOT NULL DEFAULT 0,
		limits TEXT NOT NULL DEFAULT '{}',
		notes TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (provider, model_id)
	);
	`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("aidirector/sqlite: create schema: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

func (s *Store) Providers(ctx context.Context) ([]aidirector.ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, display_name, base_url, enabled, default_model, max_tokens, temperature, cost_per_1k_tokens, models
		FROM providers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("aidirector/sqlite: query providers: %w", err)
	}
	defer rows.Close()

	var out []aidirector.ProviderConfig
	for rows.Next() {
		var p aidirector.ProviderConfig
		var models string
		if err := rows.Scan(&p.Name, &p.DisplayName, &p.BaseURL, &p.Enabled, &p.DefaultModel,
			&p.MaxTokens, &p.Temperature, &p.CostPer1kTokens, &models); err != nil {
			return nil, fmt.Errorf("aidirector/sqlite: scan provider: %w", err)
		}
		if err := json.Unmarshal([]byte(models), &p.Models); err != nil {
			return nil, fmt.Errorf("aidirector/sqlite: decode models of %s: %w", p.Name, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertProvider stores p. Credentials are never written.
func (s *Store) UpsertProvider(ctx context.Context, p aidirector.ProviderConfig) error {
	models, err := json.Marshal(append([]string{}, p.Models...))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO providers (name, display_name, base_url, enabled, default_model, max_tokens, temperature, cost_per_1k_tokens, models)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name = excluded.display_name,
			base_url = excluded.base_url,
			enabled = excluded.enabled,
			default_model = excluded.default_model,
			max_tokens = excluded.max_tokens,
			temperature = excluded.temperature,
			cost_per_1k_tokens = excluded.cost_per_1k_tokens,
			models = excluded.models`,
		p.Name, p.DisplayName, p.BaseURL, p.Enabled, p.DefaultModel, p.MaxTokens, p.Temperature, p.CostPer1kTokens, string(models),
	)
	if err != nil {
		return fmt.Errorf("aidirector/sqlite: upsert provider %s: %w", p.Name, err)
	}
	return nil
}

func (s *Store) Models(ctx context.Context, provider string) ([]aidirector.ModelRecord, error) {
	query := `SELECT provider, model_id, name, active, last_checked, capabilities FROM models`
	var args []any
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY name, provider, model_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aidirector/sqlite: query models: %w", err)
	}
	defer rows.Close()

	var out []aidirector.ModelRecord
	for rows.Next() {
		var m aidirector.ModelRecord
		var lastChecked string
		var caps sql.NullString
		if err := rows.Scan(&m.Provider, &m.ModelID, &m.Name, &m.Active, &lastChecked, &caps); err != nil {
			return nil, fmt.Errorf("aidirector/sqlite: scan model: %w", err)
		}
		if m.LastChecked, err = parseTime(lastChecked); err != nil {
			return nil, fmt.Errorf("aidirector/sqlite: parse last_checked of %s/%s: %w", m.Provider, m.ModelID, err)
		}
		if caps.Valid && caps.String != "" {
			var c aidirector.CapabilityProfile
			if err := json.Unmarshal([]byte(caps.String), &c); err != nil {
				return nil, fmt.Errorf("aidirector/sqlite: decode capabilities of %s/%s: %w", m.Provider, m.ModelID, err)
			}
			m.Capabilities = &c
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpsertModel(ctx context.Context, m aidirector.ModelRecord) error {
	var caps sql.NullString
	if m.Capabilities != nil {
		data, err := json.Marshal(m.Capabilities)
		if err != nil {
			return err
		}
		caps = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO models (provider, model_id, name, active, last_checked, capabilities)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, model_id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active,
			last_checked = excluded.last_checked,
			capabilities = COALESCE(excluded.capabilities, models.capabilities)`,
		m.Provider, m.ModelID, m.Name, m.Active, formatTime(m.LastChecked), caps,
	)
	if err != nil {
		return fmt.Errorf("aidirector/sqlite: upsert model %s/%s: %w", m.Provider, m.ModelID, err)
	}
	return nil
}

func (s *Store) DeactivateModels(ctx context.Context, provider string, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE models SET active = 0 WHERE provider = ? AND active = 1 AND last_checked < ?`,
		provider, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("aidirector/sqlite: deactivate models of %s: %w", provider, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) Pricing(ctx context.Context, provider string) ([]aidirector.PricingRecord, error) {
	query := `SELECT provider, model_id, input_price, output_price, currency, unit, active, last_updated FROM pricing`
	var args []any
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY provider, model_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aidirector/sqlite: query pricing: %w", err)
	}
	defer rows.Close()

	var out []aidirector.PricingRecord
	for rows.Next() {
		var p aidirector.PricingRecord
		var updated string
		if err := rows.Scan(&p.Provider, &p.ModelID, &p.InputPrice, &p.OutputPrice, &p.Currency, &p.Unit, &p.Active, &updated); err != nil {
			return nil, fmt.Errorf("aidirector/sqlite: scan pricing: %w", err)
		}
		if p.LastUpdated, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("aidirector/sqlite: parse last_updated of %s/%s: %w", p.Provider, p.ModelID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPricing(ctx context.Context, p aidirector.PricingRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pricing (provider, model_id, input_price, output_price, currency, unit, active, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, model_id) DO UPDATE SET
			input_price = excluded.input_price,
			output_price = excluded.output_price,
			currency = excluded.currency,
			unit = excluded.unit,
			active = excluded.active,
			last_updated = excluded.last_updated`,
		p.Provider, p.ModelID, p.InputPrice, p.OutputPrice, p.Currency, p.Unit, p.Active, formatTime(p.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("aidirector/sqlite: upsert pricing %s/%s: %w", p.Provider, p.ModelID, err)
	}
	return nil
}

func scanFreeTier(scan func(dest ...any) error) (aidirector.FreeTierRecord, error) {
	var f aidirector.FreeTierRecord
	var limits string
	if err := scan(&f.Provider, &f.ModelID, &f.IsFree, &limits, &f.Notes); err != nil {
		return f, err
	}
	if err := json.Unmarshal([]byte(limits), &f.Limits); err != nil {
		return f, fmt.Errorf("decode limits of %s/%s: %w", f.Provider, f.ModelID, err)
	}
	return f, nil
}

func (s *Store) FreeTier(ctx context.Context, provider, model string) (aidirector.FreeTierRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT provider, model_id, is_free, limits, notes FROM free_tiers WHERE provider = ? AND model_id = ?`,
		provider, model,
	)
	f, err := scanFreeTier(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return aidirector.FreeTierRecord{}, false, nil
	}
	if err != nil {
		return aidirector.FreeTierRecord{}, false, fmt.Errorf("aidirector/sqlite: query free tier: %w", err)
	}
	return f, true, nil
}

func (s *Store) FreeTiers(ctx context.Context, provider string) ([]aidirector.FreeTierRecord, error) {
	query := `SELECT provider, model_id, is_free, limits, notes FROM free_tiers`
	var args []any
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY provider, model_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aidirector/sqlite: query free tiers: %w", err)
	}
	defer rows.Close()

	var out []aidirector.FreeTierRecord
	for rows.Next() {
		f, err := scanFreeTier(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("aidirector/sqlite: scan free tier: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) UpsertFreeTier(ctx context.Context, f aidirector.FreeTierRecord) error {
	limits, err := json.Marshal(f.Limits)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO free_tiers (provider, model_id, is_free, limits, notes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider, model_id) DO UPDATE SET
			is_free = excluded.is_free,
			limits = excluded.limits,
			notes = excluded.notes`,
		f.Provider, f.ModelID, f.IsFree, string(limits), f.Notes,
	)
	if err != nil {
		return fmt.Errorf("aidirector/sqlite: upsert free tier %s/%s: %w", f.Provider, f.ModelID, err)
	}
	return nil
}
