package transport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/lambdafsm/dispatcher/arn"
)

// SQLDocumentStore is a database/sql-backed DocumentStore: a credential-free
// drop-in for the DynamoDB document-store role, used by local demos and
// `go test ./...`. It implements the same conditional-write shape as
// DynamoDocumentStore (a compare-on-fence UPDATE) via an ordinary
// `UPDATE ... WHERE fence = ?` statement, which is why the document-store
// dialect maps so directly onto SQL.
//
// Driver is either "mysql" (github.com/go-sql-driver/mysql) or "sqlite"
// (modernc.org/sqlite); both are blank-imported above so database/sql can
// find them by name. Put and BatchPut use the SQLite upsert form
// (ON CONFLICT ... DO UPDATE), which MySQL does not accept.
type SQLDocumentStore struct {
	db    *sql.DB
	table string
}

// NewSQLDocumentStore opens driver/dsn, verifies connectivity, configures
// pooling, and creates the backing table if it does not already exist.
func NewSQLDocumentStore(driver, dsn, table string) (*SQLDocumentStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", driver, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("transport: ping %s: %w", driver, err)
	}

	store := &SQLDocumentStore{db: db, table: table}
	if err := store.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLDocumentStore) createTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			pk         VARCHAR(255) PRIMARY KEY,
			payload    BLOB NOT NULL,
			fence      BIGINT NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`, s.table))
	return err
}

func (s *SQLDocumentStore) Service() arn.Service { return arn.ServiceDynamoDB }

// Close releases the underlying connection pool.
func (s *SQLDocumentStore) Close() error { return s.db.Close() }

func (s *SQLDocumentStore) Put(ctx context.Context, key string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (pk, payload, fence, updated_at) VALUES (?, ?, 0, ?)
		ON CONFLICT(pk) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		s.table), key, payload, time.Now().UTC())
	return err
}

func (s *SQLDocumentStore) Get(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT payload, fence, updated_at FROM %s WHERE pk = ?", s.table), key)

	var r Record
	r.Key = key
	if err := row.Scan(&r.Payload, &r.Fence, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return r, nil
}

func (s *SQLDocumentStore) PutIfAbsent(ctx context.Context, key string, payload []byte) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (pk, payload, fence, updated_at)
		SELECT ?, ?, 0, ? WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE pk = ?)`,
		s.table), key, payload, time.Now().UTC(), key)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrConditionFailed
	}
	return nil
}

// PutIfFenceMatches mirrors DynamoDocumentStore.PutIfFenceMatches: an
// UPDATE guarded by the stored fence, or (when expectFence is 0) an INSERT
// that only succeeds if no row exists yet.
func (s *SQLDocumentStore) PutIfFenceMatches(ctx context.Context, key string, expectFence int64, payload []byte) (int64, error) {
	newFence := expectFence + 1
	now := time.Now().UTC()

	if expectFence == 0 {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (pk, payload, fence, updated_at)
			SELECT ?, ?, ?, ? WHERE NOT EXISTS (
				SELECT 1 FROM %[1]s WHERE pk = ?
			)`, s.table), key, payload, newFence, now, key)
		if err != nil {
			return 0, err
		}
		if affected, err := res.RowsAffected(); err == nil && affected > 0 {
			return newFence, nil
		}
		// Row may already exist with fence 0; fall through to the UPDATE path.
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET payload = ?, fence = ?, updated_at = ? WHERE pk = ? AND fence = ?",
		s.table), payload, newFence, now, key, expectFence)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrConditionFailed
	}
	return newFence, nil
}

// ReleaseFence mirrors DynamoDocumentStore.ReleaseFence: an UPDATE guarded
// by the stored fence that leaves the fence column untouched, unlike
// PutIfFenceMatches.
func (s *SQLDocumentStore) ReleaseFence(ctx context.Context, key string, expectFence int64, payload []byte) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET payload = ?, updated_at = ? WHERE pk = ? AND fence = ?",
		s.table), payload, time.Now().UTC(), key, expectFence)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConditionFailed
	}
	return nil
}

// ScanPrefix backs the retry sweeper's partition query: a prefix-ordered
// range scan, rather than the DynamoDB-style GSI query a real partitioned
// table would use, but functionally equivalent for the local/demo backend.
func (s *SQLDocumentStore) ScanPrefix(ctx context.Context, prefix string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT pk, payload, fence, updated_at FROM %s WHERE pk LIKE ? ORDER BY pk ASC LIMIT ?",
		s.table), prefix+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Payload, &r.Fence, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLDocumentStore) BatchPut(ctx context.Context, items map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for key, payload := range items {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (pk, payload, fence, updated_at) VALUES (?, ?, 0, ?)
			ON CONFLICT(pk) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
			s.table), key, payload, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLDocumentStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE pk = ?", s.table), key)
	return err
}
