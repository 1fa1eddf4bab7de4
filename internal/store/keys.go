package store

import "database/sql"

// InsertKeyPair persists a new key pair. Rotation inserts rather than
// updates; the newest row per user is the active pair.
func (db *DB) InsertKeyPair(rec *KeyPairRecord) error {
	if err := db.ready(); err != nil {
		return err
	}
	_, err := db.Exec(`
		INSERT INTO key_pairs (user_id, public_key, private_key, created_at)
		VALUES (?, ?, ?, ?)`,
		rec.UserID, rec.PublicKey, rec.PrivateKey, rec.CreatedAt)
	return err
}

// ActiveKeyPair returns the newest key pair for a user, or nil when the
// user has none.
func (db *DB) ActiveKeyPair(userID string) (*KeyPairRecord, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	var rec KeyPairRecord
	err := db.QueryRow(`
		SELECT id, user_id, public_key, private_key, created_at
		FROM key_pairs WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, userID).
		Scan(&rec.ID, &rec.UserID, &rec.PublicKey, &rec.PrivateKey, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountKeyPairs returns the number of stored pairs for a user,
// superseded ones included.
func (db *DB) CountKeyPairs(userID string) (int, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM key_pairs WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// UpsertPeerKey caches a peer's public key.
func (db *DB) UpsertPeerKey(rec *PeerKeyRecord) error {
	if err := db.ready(); err != nil {
		return err
	}
	_, err := db.Exec(`
		INSERT INTO peer_keys (user_id, public_key, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			public_key = excluded.public_key,
			created_at = excluded.created_at`,
		rec.UserID, rec.PublicKey, rec.CreatedAt)
	return err
}

// GetPeerKey returns a peer's cached public key, or nil when unknown.
func (db *DB) GetPeerKey(userID string) (*PeerKeyRecord, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	var rec PeerKeyRecord
	err := db.QueryRow(`
		SELECT user_id, public_key, created_at FROM peer_keys WHERE user_id = ?`, userID).
		Scan(&rec.UserID, &rec.PublicKey, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteAllKeys wipes both key tables in one transaction. Idempotent;
// used on logout.
func (db *DB) DeleteAllKeys() error {
	if err := db.ready(); err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM key_pairs`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM peer_keys`); err != nil {
		return err
	}
	return tx.Commit()
}
