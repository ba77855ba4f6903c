// Package bondstore implements persistence.Store on top of SQLite: a
// pure-Go driver opened by path, one migration run at construction, and
// plain database/sql queries per operation.
package bondstore

import (
	"database/sql"
	"time"

	"github.com/whad-go/whad/pkg/persistence"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// Store implements persistence.Store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path and ensures its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS bonds (
		peer_address TEXT NOT NULL,
		address_type INTEGER NOT NULL,
		ltk BLOB,
		irk BLOB,
		ediv INTEGER,
		rand BLOB,
		key_size INTEGER,
		lesc INTEGER,
		created_at DATETIME,
		PRIMARY KEY (peer_address, address_type)
	);
	`)
	return err
}

// SaveBond implements persistence.Store.
func (s *Store) SaveBond(b *persistence.Bond) error {
	_, err := s.db.Exec(`
	INSERT INTO bonds (peer_address, address_type, ltk, irk, ediv, rand, key_size, lesc, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(peer_address, address_type) DO UPDATE SET
		ltk=excluded.ltk, irk=excluded.irk, ediv=excluded.ediv, rand=excluded.rand,
		key_size=excluded.key_size, lesc=excluded.lesc, created_at=excluded.created_at
	`, b.PeerAddress, b.AddressType, b.LTK, b.IRK, b.EDIV, b.Rand, b.KeySize, b.LESC, b.CreatedAt)
	return err
}

// GetBond implements persistence.Store.
func (s *Store) GetBond(peerAddress string, addressType byte) (*persistence.Bond, error) {
	row := s.db.QueryRow(`
	SELECT peer_address, address_type, ltk, irk, ediv, rand, key_size, lesc, created_at
	FROM bonds WHERE peer_address = ? AND address_type = ?`, peerAddress, addressType)

	b := &persistence.Bond{}
	var lesc int
	var created time.Time
	if err := row.Scan(&b.PeerAddress, &b.AddressType, &b.LTK, &b.IRK, &b.EDIV, &b.Rand, &b.KeySize, &lesc, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, err
	}
	b.LESC = lesc != 0
	b.CreatedAt = created
	return b, nil
}

// DeleteBond implements persistence.Store.
func (s *Store) DeleteBond(peerAddress string, addressType byte) error {
	_, err := s.db.Exec(`DELETE FROM bonds WHERE peer_address = ? AND address_type = ?`, peerAddress, addressType)
	return err
}

// ListBonds implements persistence.Store.
func (s *Store) ListBonds() ([]*persistence.Bond, error) {
	rows, err := s.db.Query(`SELECT peer_address, address_type, ltk, irk, ediv, rand, key_size, lesc, created_at FROM bonds`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*persistence.Bond
	for rows.Next() {
		b := &persistence.Bond{}
		var lesc int
		var created time.Time
		if err := rows.Scan(&b.PeerAddress, &b.AddressType, &b.LTK, &b.IRK, &b.EDIV, &b.Rand, &b.KeySize, &lesc, &created); err != nil {
			return nil, err
		}
		b.LESC = lesc != 0
		b.CreatedAt = created
		out = append(out, b)
	}
	return out, rows.Err()
}

// Close implements persistence.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
