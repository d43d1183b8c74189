// Package postgres persists characters in Postgres through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/wiki-character-crawler/internal/crawler"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "characters"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and target table.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// CharacterStore upserts characters keyed by name.
type CharacterStore struct {
	pool  txPool
	table string

	schemaMu    sync.Mutex
	schemaReady bool
}

// NewCharacterStore connects a pool using cfg.
func NewCharacterStore(ctx context.Context, cfg Config) (*CharacterStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CharacterStore{pool: pool, table: table}, nil
}

// NewCharacterStoreWithPool wraps an existing pool (pgxpool.Pool or pgxmock).
func NewCharacterStoreWithPool(pool txPool, table string) (*CharacterStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &CharacterStore{pool: pool, table: name}, nil
}

func tableName(raw string) (string, error) {
	if raw == "" {
		return DefaultTable, nil
	}
	if !validTableName.MatchString(raw) {
		return "", fmt.Errorf("invalid table name %q", raw)
	}
	return raw, nil
}

// Runs returns a RunStore sharing this store's pool.
func (s *CharacterStore) Runs() *RunStore {
	return &RunStore{pool: s.pool}
}

// Close releases the pool.
func (s *CharacterStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *CharacterStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// ensureSchema creates the table once per store. A failed attempt is
// retried on the next call.
func (s *CharacterStore) ensureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id SERIAL PRIMARY KEY,
	name VARCHAR(255) NOT NULL UNIQUE,
	episode VARCHAR(15),
	chapter VARCHAR(15),
	year INTEGER,
	note TEXT,
	appearance TEXT,
	personality TEXT,
	abilities_and_powers TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	s.schemaReady = true
	return nil
}

// Upsert inserts character or overwrites every column of the row with the
// same name. Each call runs in its own transaction.
func (s *CharacterStore) Upsert(ctx context.Context, character crawler.Character) error {
	if character.Name == "" {
		return errors.New("character name is required")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	name,
	episode,
	chapter,
	year,
	note,
	appearance,
	personality,
	abilities_and_powers
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (name) DO UPDATE SET
	episode = EXCLUDED.episode,
	chapter = EXCLUDED.chapter,
	year = EXCLUDED.year,
	note = EXCLUDED.note,
	appearance = EXCLUDED.appearance,
	personality = EXCLUDED.personality,
	abilities_and_powers = EXCLUDED.abilities_and_powers`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	_, err = tx.Exec(ctx, query,
		character.Name,
		character.Episode,
		character.Chapter,
		character.Year,
		character.Note,
		character.Appearance,
		character.Personality,
		character.AbilitiesAndPowers,
	)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("upsert character %q: %w (rollback: %v)", character.Name, err, rbErr)
		}
		return fmt.Errorf("upsert character %q: %w", character.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit character %q: %w", character.Name, err)
	}
	return nil
}
