// Package metadata is a read-accelerating SQLite cache of installed
// runtime and package state, supplementing the package repository and
// installer (which remain the filesystem's source of truth) so the
// runtimes/packages HTTP endpoints don't re-scan and re-parse disk on
// every request.
package metadata

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed cache of runtime and package metadata.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is live, used for the health
// endpoint.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runtimes (
			language TEXT NOT NULL,
			version  TEXT NOT NULL,
			aliases  TEXT NOT NULL DEFAULT '',
			runtime  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (language, version)
		);
		CREATE TABLE IF NOT EXISTS packages (
			language  TEXT NOT NULL,
			version   TEXT NOT NULL,
			installed INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (language, version)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create metadata schema: %w", err)
	}
	return nil
}

// RuntimeRecord mirrors a row of the runtimes table.
type RuntimeRecord struct {
	Language string
	Version  string
	Aliases  []string
	Runtime  string
}

// PackageRecord mirrors a row of the packages table.
type PackageRecord struct {
	Language  string
	Version   string
	Installed bool
}

// AddRuntime upserts a runtime record.
func (s *Store) AddRuntime(r RuntimeRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO runtimes (language, version, aliases, runtime) VALUES (?, ?, ?, ?)
		 ON CONFLICT(language, version) DO UPDATE SET aliases = excluded.aliases, runtime = excluded.runtime`,
		r.Language, r.Version, strings.Join(r.Aliases, ","), r.Runtime,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert runtime %s-%s: %w", r.Language, r.Version, err)
	}
	return nil
}

// GetRuntimes returns every cached runtime record.
func (s *Store) GetRuntimes() ([]RuntimeRecord, error) {
	rows, err := s.db.Query(`SELECT language, version, aliases, runtime FROM runtimes ORDER BY language, version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runtimes: %w", err)
	}
	defer rows.Close()

	var results []RuntimeRecord
	for rows.Next() {
		var r RuntimeRecord
		var aliases string
		if err := rows.Scan(&r.Language, &r.Version, &aliases, &r.Runtime); err != nil {
			return nil, fmt.Errorf("failed to scan runtime row: %w", err)
		}
		if aliases != "" {
			r.Aliases = strings.Split(aliases, ",")
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SetInstalled upserts a package's installed state.
func (s *Store) SetInstalled(language, version string, installed bool) error {
	v := 0
	if installed {
		v = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO packages (language, version, installed) VALUES (?, ?, ?)
		 ON CONFLICT(language, version) DO UPDATE SET installed = excluded.installed`,
		language, version, v,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert package state %s-%s: %w", language, version, err)
	}
	return nil
}

// GetPackages returns every cached package record.
func (s *Store) GetPackages() ([]PackageRecord, error) {
	rows, err := s.db.Query(`SELECT language, version, installed FROM packages ORDER BY language, version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	var results []PackageRecord
	for rows.Next() {
		var r PackageRecord
		var installed int
		if err := rows.Scan(&r.Language, &r.Version, &installed); err != nil {
			return nil, fmt.Errorf("failed to scan package row: %w", err)
		}
		r.Installed = installed != 0
		results = append(results, r)
	}
	return results, rows.Err()
}
