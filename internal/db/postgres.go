package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/keysweep/pkg/models"
)

// PostgresStore is an audit-only record of scan sessions run in serve
// mode; it never persists key material, only each session's parameters
// and the UTXO/coverage summary it produced.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for scan-session audit log")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file.
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("scan_sessions schema initialized")
	return nil
}

// SaveScanSession upserts a session's current state. Serve mode calls it
// once a session completes or fails; on a repeated save of the same id,
// status, completedAt, utxos, coverage and error are overwritten.
func (s *PostgresStore) SaveScanSession(ctx context.Context, session models.ScanSession) error {
	utxosJSON, err := json.Marshal(session.Utxos)
	if err != nil {
		return fmt.Errorf("failed to marshal utxos: %v", err)
	}
	coverageJSON, err := json.Marshal(session.Coverage)
	if err != nil {
		return fmt.Errorf("failed to marshal coverage: %v", err)
	}

	sql := `
		INSERT INTO scan_sessions
			(id, status, address_gap, account_gap, started_at, completed_at, utxos, coverage, error)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), $7, $8, NULLIF($9, ''))
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			utxos = EXCLUDED.utxos,
			coverage = EXCLUDED.coverage,
			error = EXCLUDED.error;
	`
	_, err = s.pool.Exec(ctx, sql,
		session.ID, session.Status, session.AddressGap, session.AccountGap,
		session.StartedAt, session.CompletedAt, utxosJSON, coverageJSON, session.Error,
	)
	return err
}

// GetScanSession retrieves one session by ID.
func (s *PostgresStore) GetScanSession(ctx context.Context, id string) (*models.ScanSession, error) {
	sql := `
		SELECT id, status, address_gap, account_gap, started_at,
		       COALESCE(completed_at, 0), utxos, coverage, COALESCE(error, '')
		FROM scan_sessions WHERE id = $1
	`
	row := s.pool.QueryRow(ctx, sql, id)

	var session models.ScanSession
	var utxosJSON, coverageJSON []byte
	err := row.Scan(
		&session.ID, &session.Status, &session.AddressGap, &session.AccountGap,
		&session.StartedAt, &session.CompletedAt, &utxosJSON, &coverageJSON, &session.Error,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(utxosJSON, &session.Utxos); err != nil {
		return nil, fmt.Errorf("failed to unmarshal utxos: %v", err)
	}
	if err := json.Unmarshal(coverageJSON, &session.Coverage); err != nil {
		return nil, fmt.Errorf("failed to unmarshal coverage: %v", err)
	}
	return &session, nil
}

// ListScanSessions returns the most recent sessions, newest first.
func (s *PostgresStore) ListScanSessions(ctx context.Context, limit int) ([]models.ScanSession, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	sql := `
		SELECT id, status, address_gap, account_gap, started_at,
		       COALESCE(completed_at, 0), utxos, coverage, COALESCE(error, '')
		FROM scan_sessions ORDER BY started_at DESC LIMIT $1
	`
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ScanSession
	for rows.Next() {
		var session models.ScanSession
		var utxosJSON, coverageJSON []byte
		if err := rows.Scan(
			&session.ID, &session.Status, &session.AddressGap, &session.AccountGap,
			&session.StartedAt, &session.CompletedAt, &utxosJSON, &coverageJSON, &session.Error,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(utxosJSON, &session.Utxos); err != nil {
			return nil, fmt.Errorf("failed to unmarshal utxos: %v", err)
		}
		if err := json.Unmarshal(coverageJSON, &session.Coverage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal coverage: %v", err)
		}
		sessions = append(sessions, session)
	}
	if sessions == nil {
		sessions = []models.ScanSession{}
	}
	return sessions, nil
}

// GetPool exposes the underlying connection pool.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
