// Package sharelink persists share links: random tokens that resolve to
// virtual paths. The core exposes no callbacks to this store; the transport
// layer calls Retarget after a completed move so links keep pointing at the
// relocated files.
package sharelink

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is a sqlite-backed token → target table.
type Store struct {
	db *sql.DB
}

// Open creates or opens the link database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open link db: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS links (
		token   TEXT PRIMARY KEY,
		target  TEXT NOT NULL,
		created INTEGER NOT NULL DEFAULT (strftime('%s','now'))
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create links table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create mints a new token for target and returns it.
func (s *Store) Create(target string) (string, error) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	if _, err := s.db.Exec(`INSERT INTO links (token, target) VALUES (?, ?)`, token, target); err != nil {
		return "", fmt.Errorf("insert link: %w", err)
	}
	return token, nil
}

// Resolve returns the target for token; ok is false for unknown tokens.
func (s *Store) Resolve(token string) (string, bool) {
	var target string
	err := s.db.QueryRow(`SELECT target FROM links WHERE token = ?`, token).Scan(&target)
	if err != nil {
		return "", false
	}
	return target, true
}

// Delete removes a token.
func (s *Store) Delete(token string) error {
	_, err := s.db.Exec(`DELETE FROM links WHERE token = ?`, token)
	return err
}

// Retarget rewrites every link whose target is src, or lies beneath it, to
// the corresponding path under dst. It is called by the transport layer
// after a move completes.
func (s *Store) Retarget(src, dst string) error {
	rows, err := s.db.Query(`SELECT token, target FROM links WHERE target = ? OR substr(target, 1, length(?)) = ?`, src, src+"/", src+"/")
	if err != nil {
		return fmt.Errorf("scan links: %w", err)
	}
	type rewrite struct{ token, target string }
	var rewrites []rewrite
	for rows.Next() {
		var r rewrite
		if err := rows.Scan(&r.token, &r.target); err != nil {
			rows.Close()
			return err
		}
		r.target = dst + strings.TrimPrefix(r.target, src)
		rewrites = append(rewrites, r)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, r := range rewrites {
		if _, err := s.db.Exec(`UPDATE links SET target = ? WHERE token = ?`, r.target, r.token); err != nil {
			return fmt.Errorf("retarget %s: %w", r.token, err)
		}
	}
	return nil
}

// DropTarget deletes every link pointing at p or beneath it, used when the
// linked path is deleted outright.
func (s *Store) DropTarget(p string) error {
	_, err := s.db.Exec(`DELETE FROM links WHERE target = ? OR substr(target, 1, length(?)) = ?`, p, p+"/", p+"/")
	return err
}
