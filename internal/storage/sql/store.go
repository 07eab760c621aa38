package sql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/calebmassey/infra-provisioner/internal/domain"
	"github.com/calebmassey/infra-provisioner/internal/storage"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New creates a new SQL store.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Run migrations
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, driver: s.driver}, nil
}

// Tx wraps a database transaction.
type Tx struct {
	tx     *sqlx.Tx
	driver string
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Close is a no-op for transactions (they should be committed or rolled back).
func (t *Tx) Close() error {
	return nil
}

// BeginTx is not supported within a transaction.
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

// helper to get the correct database interface
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ============================================
// Provision requests
// ============================================

// requestRow is the flat database representation of a provision request.
// The nested specification, publication, and error structures are stored
// as JSON text so the schema stays stable as those shapes evolve.
type requestRow struct {
	ID            string         `db:"id"`
	RequestText   string         `db:"request_text"`
	Requester     string         `db:"requester"`
	Team          sql.NullString `db:"team"`
	Service       sql.NullString `db:"service"`
	Environment   sql.NullString `db:"environment"`
	Status        string         `db:"status"`
	Specification sql.NullString `db:"specification"`
	ArtifactDir   sql.NullString `db:"artifact_dir"`
	Publication   sql.NullString `db:"publication"`
	Error         sql.NullString `db:"error"`
	CreatedAt     time.Time      `db:"created_at"`
	CompletedAt   sql.NullTime   `db:"completed_at"`
}

func toRow(req *domain.ProvisionRequest) (*requestRow, error) {
	row := &requestRow{
		ID:          req.ID,
		RequestText: req.RequestText,
		Requester:   req.Requester,
		Team:        nullString(req.Team),
		Service:     nullString(req.Service),
		Environment: nullString(req.Environment),
		Status:      string(req.Status),
		ArtifactDir: nullString(req.ArtifactDir),
		CreatedAt:   req.CreatedAt,
	}
	if req.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *req.CompletedAt, Valid: true}
	}

	var err error
	if row.Specification, err = nullJSON(req.Specification); err != nil {
		return nil, fmt.Errorf("encoding specification: %w", err)
	}
	if row.Publication, err = nullJSON(req.Publication); err != nil {
		return nil, fmt.Errorf("encoding publication: %w", err)
	}
	if row.Error, err = nullJSON(req.Error); err != nil {
		return nil, fmt.Errorf("encoding error detail: %w", err)
	}
	return row, nil
}

func fromRow(row *requestRow) (*domain.ProvisionRequest, error) {
	req := &domain.ProvisionRequest{
		ID:          row.ID,
		RequestText: row.RequestText,
		Requester:   row.Requester,
		Team:        row.Team.String,
		Service:     row.Service.String,
		Environment: row.Environment.String,
		Status:      domain.Status(row.Status),
		ArtifactDir: row.ArtifactDir.String,
		CreatedAt:   row.CreatedAt,
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		req.CompletedAt = &t
	}

	if row.Specification.Valid {
		var spec domain.Specification
		if err := json.Unmarshal([]byte(row.Specification.String), &spec); err != nil {
			return nil, fmt.Errorf("decoding specification for %s: %w", row.ID, err)
		}
		req.Specification = &spec
	}
	if row.Publication.Valid {
		var pub domain.Publication
		if err := json.Unmarshal([]byte(row.Publication.String), &pub); err != nil {
			return nil, fmt.Errorf("decoding publication for %s: %w", row.ID, err)
		}
		req.Publication = &pub
	}
	if row.Error.Valid {
		var reqErr domain.RequestError
		if err := json.Unmarshal([]byte(row.Error.String), &reqErr); err != nil {
			return nil, fmt.Errorf("decoding error detail for %s: %w", row.ID, err)
		}
		req.Error = &reqErr
	}
	return req, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	// Typed nil pointers also mean absent.
	switch p := v.(type) {
	case *domain.Specification:
		if p == nil {
			return sql.NullString{}, nil
		}
	case *domain.Publication:
		if p == nil {
			return sql.NullString{}, nil
		}
	case *domain.RequestError:
		if p == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func createRequest(ctx context.Context, db dbInterface, req *domain.ProvisionRequest) error {
	row, err := toRow(req)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO requests (id, request_text, requester, team, service, environment,
		                       status, specification, artifact_dir, publication, error,
		                       created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		row.ID, row.RequestText, row.Requester, row.Team, row.Service, row.Environment,
		row.Status, row.Specification, row.ArtifactDir, row.Publication, row.Error,
		row.CreatedAt, row.CompletedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateRequest(ctx context.Context, req *domain.ProvisionRequest) error {
	return createRequest(ctx, s.db, req)
}

func (t *Tx) CreateRequest(ctx context.Context, req *domain.ProvisionRequest) error {
	return createRequest(ctx, t.tx, req)
}

func getRequest(ctx context.Context, db dbInterface, id string) (*domain.ProvisionRequest, error) {
	var row requestRow
	err := db.GetContext(ctx, &row, `SELECT * FROM requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row)
}

func (s *Store) GetRequest(ctx context.Context, id string) (*domain.ProvisionRequest, error) {
	return getRequest(ctx, s.db, id)
}

func (t *Tx) GetRequest(ctx context.Context, id string) (*domain.ProvisionRequest, error) {
	return getRequest(ctx, t.tx, id)
}

func updateRequest(ctx context.Context, db dbInterface, req *domain.ProvisionRequest) error {
	row, err := toRow(req)
	if err != nil {
		return err
	}
	result, err := db.ExecContext(ctx,
		`UPDATE requests
		 SET status = $1, specification = $2, artifact_dir = $3, publication = $4,
		     error = $5, completed_at = $6
		 WHERE id = $7`,
		row.Status, row.Specification, row.ArtifactDir, row.Publication,
		row.Error, row.CompletedAt, row.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateRequest(ctx context.Context, req *domain.ProvisionRequest) error {
	return updateRequest(ctx, s.db, req)
}

func (t *Tx) UpdateRequest(ctx context.Context, req *domain.ProvisionRequest) error {
	return updateRequest(ctx, t.tx, req)
}

func listRequestsByRequester(ctx context.Context, db dbInterface, requester string, limit int) ([]*domain.ProvisionRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []requestRow
	err := db.SelectContext(ctx, &rows,
		`SELECT * FROM requests WHERE requester = $1 ORDER BY created_at DESC LIMIT $2`,
		requester, limit)
	if err != nil {
		return nil, err
	}

	result := make([]*domain.ProvisionRequest, 0, len(rows))
	for i := range rows {
		req, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, nil
}

func (s *Store) ListRequestsByRequester(ctx context.Context, requester string, limit int) ([]*domain.ProvisionRequest, error) {
	return listRequestsByRequester(ctx, s.db, requester, limit)
}

func (t *Tx) ListRequestsByRequester(ctx context.Context, requester string, limit int) ([]*domain.ProvisionRequest, error) {
	return listRequestsByRequester(ctx, t.tx, requester, limit)
}

// ============================================
// API Keys
// ============================================

func createAPIKey(ctx context.Context, db dbInterface, key *domain.APIKey) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.LastUsedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, s.db, key)
}

func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, t.tx, key)
}

func getAPIKeyByHash(ctx context.Context, db dbInterface, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := db.GetContext(ctx, &key, `SELECT * FROM api_keys WHERE key_hash = $1`, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, s.db, keyHash)
}

func (t *Tx) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, t.tx, keyHash)
}

func listAPIKeys(ctx context.Context, db dbInterface) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := db.SelectContext(ctx, &keys, `SELECT * FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, s.db)
}

func (t *Tx) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, t.tx)
}

func deleteAPIKey(ctx context.Context, db dbInterface, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, s.db, id)
}

func (t *Tx) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, t.tx, id)
}

func updateAPIKeyLastUsed(ctx context.Context, db dbInterface, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, s.db, id)
}

func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, t.tx, id)
}

func countAPIKeys(ctx context.Context, db dbInterface) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys`)
	return count, err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, s.db)
}

func (t *Tx) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, t.tx)
}
