package store

import "database/sql"

// EnqueueAction inserts a new offline action.
func (db *DB) EnqueueAction(a *OfflineAction) error {
	if err := db.ready(); err != nil {
		return err
	}
	_, err := db.Exec(`
		INSERT INTO offline_actions (id, kind, payload, timestamp, retry_count, max_retries)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Kind, a.Payload, a.Timestamp, a.RetryCount, a.MaxRetries)
	return err
}

// GetAction returns the action by id, or nil when absent.
func (db *DB) GetAction(id string) (*OfflineAction, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	var a OfflineAction
	err := db.QueryRow(`
		SELECT id, kind, payload, timestamp, retry_count, max_retries
		FROM offline_actions WHERE id = ?`, id).
		Scan(&a.ID, &a.Kind, &a.Payload, &a.Timestamp, &a.RetryCount, &a.MaxRetries)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// PendingActions returns all queued actions in FIFO creation order.
func (db *DB) PendingActions() ([]OfflineAction, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	rows, err := db.Query(`
		SELECT id, kind, payload, timestamp, retry_count, max_retries
		FROM offline_actions ORDER BY timestamp ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var actions []OfflineAction
	for rows.Next() {
		var a OfflineAction
		if err := rows.Scan(&a.ID, &a.Kind, &a.Payload, &a.Timestamp, &a.RetryCount, &a.MaxRetries); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// BumpActionRetry increments the retry count and returns the new count.
func (db *DB) BumpActionRetry(id string) (int, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE offline_actions SET retry_count = retry_count + 1 WHERE id = ?`, id); err != nil {
		return 0, err
	}
	var count int
	if err := tx.QueryRow(`SELECT retry_count FROM offline_actions WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, err
	}
	return count, tx.Commit()
}

// DeleteAction removes an offline action.
func (db *DB) DeleteAction(id string) error {
	if err := db.ready(); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM offline_actions WHERE id = ?`, id)
	return err
}

// CountActions returns the number of queued actions.
func (db *DB) CountActions() (int, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM offline_actions`).Scan(&n)
	return n, err
}

// ClearActions removes every queued action.
func (db *DB) ClearActions() error {
	if err := db.ready(); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM offline_actions`)
	return err
}
