package assets

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Pack is a SQLite file holding class blobs, one row per blob.
type Pack struct {
	db   *sql.DB
	path string
}

// OpenPack opens (creating when needed) the pack at path.
func OpenPack(path string) (*Pack, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening pack: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		name TEXT PRIMARY KEY COLLATE NOCASE,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Pack{db: db, path: path}, nil
}

// Close closes the database connection.
func (p *Pack) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Put stores data under name, replacing any blob of the same name.
func (p *Pack) Put(name string, data []byte) error {
	_, err := p.db.Exec("INSERT OR REPLACE INTO blobs (name, data) VALUES (?, ?)", name, data)
	if err != nil {
		return fmt.Errorf("storing %s: %w", name, err)
	}
	return nil
}

// Load returns the blob stored under name. Names compare without case.
func (p *Pack) Load(name string) ([]byte, bool, error) {
	var data []byte
	err := p.db.QueryRow("SELECT data FROM blobs WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying %s: %w", name, err)
	}
	return data, true, nil
}

// Names lists the stored blob names in order.
func (p *Pack) Names() ([]string, error) {
	rows, err := p.db.Query("SELECT name FROM blobs ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// PackDir stores every blob of dir in p inside one transaction and
// returns the number stored.
func (p *Pack) PackDir(dir string) (int, error) {
	src := NewDirSource(dir)
	names, err := src.Names()
	if err != nil {
		return 0, err
	}

	tx, err := p.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO blobs (name, data) VALUES (?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, n := range names {
		data, _, err := src.Load(n)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.Exec(n, data); err != nil {
			return 0, fmt.Errorf("storing %s: %w", n, err)
		}
		log.Debugf("packed %s (%d bytes)", n, len(data))
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	log.Infof("packed %d blobs from %s into %s", len(names), dir, filepath.Base(p.path))
	return len(names), nil
}

// Extract writes every blob into dir and returns the number written.
func (p *Pack) Extract(dir string) (int, error) {
	names, err := p.Names()
	if err != nil {
		return 0, err
	}
	for _, n := range names {
		if strings.ContainsAny(n, `/\`) {
			return 0, fmt.Errorf("bad blob name %q", n)
		}
		data, _, err := p.Load(n)
		if err != nil {
			return 0, err
		}
		if err := os.WriteFile(filepath.Join(dir, n), data, 0644); err != nil {
			return 0, err
		}
	}
	return len(names), nil
}
