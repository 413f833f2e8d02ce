// Package store persists enumerated feature lists in SQLite, so that repeated runs over coefficient files of the same shape skip the enumeration.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/fumin/qfeature"
)

const (
	tableFeatures = "features"
)

type Store struct {
	Path string

	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	s := &Store{Path: dbPath}
	var err error
	s.db, err = newDB(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

func OpenMust(dbPath string) *Store {
	s, err := Open(dbPath)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored feature list of (n, r, labels).
// ok is false if nothing, or only a partial list, is stored.
func (s *Store) Get(ctx context.Context, n, r int, labels []string) ([]string, bool, error) {
	dim, err := qfeature.Dimension(n, r, len(labels))
	if err != nil {
		return nil, false, errors.Wrap(err, "")
	}

	sqlStr := fmt.Sprintf(`SELECT i, feature FROM %s WHERE n=? AND r=? AND labels=? ORDER BY i`, tableFeatures)
	rows, err := s.db.QueryContext(ctx, sqlStr, n, r, qfeature.LabelsKey(labels))
	if err != nil {
		return nil, false, errors.Wrap(err, "")
	}
	defer rows.Close()

	list := make([]string, 0, dim)
	for rows.Next() {
		var i int
		var feat string
		if err := rows.Scan(&i, &feat); err != nil {
			return nil, false, errors.Wrap(err, "")
		}
		if i != len(list) {
			return nil, false, nil
		}
		list = append(list, feat)
	}
	if err := rows.Err(); err != nil {
		return nil, false, errors.Wrap(err, "")
	}

	if len(list) != dim {
		return nil, false, nil
	}
	return list, true, nil
}

// Put replaces the stored feature list of (n, r, labels).
func (s *Store) Put(ctx context.Context, n, r int, labels []string, list []string) error {
	dim, err := qfeature.Dimension(n, r, len(labels))
	if err != nil {
		return errors.Wrap(err, "")
	}
	if len(list) != dim {
		return errors.Wrap(qfeature.ErrPrecondition, fmt.Sprintf("list %d dimension %d", len(list), dim))
	}
	key := qfeature.LabelsKey(labels)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer tx.Rollback()

	sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE n=? AND r=? AND labels=?`, tableFeatures)
	if _, err := tx.ExecContext(ctx, sqlStr, n, r, key); err != nil {
		return errors.Wrap(err, "")
	}

	sqlStr = fmt.Sprintf(`INSERT INTO %s (n, r, labels, i, feature) VALUES (?, ?, ?, ?, ?)`, tableFeatures)
	stmt, err := tx.PrepareContext(ctx, sqlStr)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer stmt.Close()
	for i, feat := range list {
		if _, err := stmt.ExecContext(ctx, n, r, key, i, feat); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d %q", i, feat))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Indexer returns an Indexer whose enumerative feature list is loaded from the store, computing and storing it on a miss.
func (s *Store) Indexer(ctx context.Context, n, r int, labels []string) (*qfeature.Indexer, error) {
	ix, err := qfeature.NewIndexer(n, r, labels, qfeature.NewIndexerOptions().Unrank(true))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if ix.Strategy() != qfeature.Enumerative {
		return ix, nil
	}

	list, ok, err := s.Get(ctx, n, r, labels)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if !ok {
		list, err = qfeature.FeatureList(n, r, labels)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if err := s.Put(ctx, n, r, labels, list); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}

	ix, err = qfeature.NewIndexer(n, r, labels, qfeature.NewIndexerOptions().List(list))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return ix, nil
}

// NumFeatures returns the number of stored rows over all keys.
func (s *Store) NumFeatures(ctx context.Context) (int, error) {
	sqlStr := fmt.Sprintf("SELECT count(1) FROM %s", tableFeatures)
	var n int
	if err := s.db.QueryRowContext(ctx, sqlStr).Scan(&n); err != nil {
		return -1, errors.Wrap(err, "")
	}
	return n, nil
}

func newDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}

	return db, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (n INTEGER, r INTEGER, labels TEXT, i INTEGER, feature TEXT, PRIMARY KEY (n, r, labels, i)) STRICT`, tableFeatures)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
