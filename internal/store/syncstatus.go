package store

import "database/sql"

// UpsertSyncStatus writes the full per-conversation sync state.
func (db *DB) UpsertSyncStatus(s *SyncStatus) error {
	if err := db.ready(); err != nil {
		return err
	}
	_, err := db.Exec(`
		INSERT INTO sync_status (conversation_id, status, progress, pending_messages, last_sync_time, error_message, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			pending_messages = excluded.pending_messages,
			last_sync_time = excluded.last_sync_time,
			error_message = excluded.error_message,
			retry_count = excluded.retry_count`,
		s.ConversationID, s.Status, s.Progress, s.PendingMessages, s.LastSyncTime, s.ErrorMessage, s.RetryCount)
	return err
}

// GetSyncStatus returns the status for a conversation, or nil when the
// conversation has never synced.
func (db *DB) GetSyncStatus(conversationID string) (*SyncStatus, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	var s SyncStatus
	err := db.QueryRow(`
		SELECT conversation_id, status, progress, pending_messages, last_sync_time, error_message, retry_count
		FROM sync_status WHERE conversation_id = ?`, conversationID).
		Scan(&s.ConversationID, &s.Status, &s.Progress, &s.PendingMessages, &s.LastSyncTime, &s.ErrorMessage, &s.RetryCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSyncStatuses returns every conversation's sync state.
func (db *DB) ListSyncStatuses() ([]SyncStatus, error) {
	return db.listSyncStatuses(`
		SELECT conversation_id, status, progress, pending_messages, last_sync_time, error_message, retry_count
		FROM sync_status`)
}

// ListSyncStatusesByState returns conversations currently in the given
// state, used by the health sweep (syncing) and failed-sync re-arming
// (error).
func (db *DB) ListSyncStatusesByState(state string) ([]SyncStatus, error) {
	return db.listSyncStatuses(`
		SELECT conversation_id, status, progress, pending_messages, last_sync_time, error_message, retry_count
		FROM sync_status WHERE status = ?`, state)
}

func (db *DB) listSyncStatuses(query string, args ...any) ([]SyncStatus, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var statuses []SyncStatus
	for rows.Next() {
		var s SyncStatus
		if err := rows.Scan(&s.ConversationID, &s.Status, &s.Progress, &s.PendingMessages,
			&s.LastSyncTime, &s.ErrorMessage, &s.RetryCount); err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// ClearSyncStatus removes every conversation's sync state.
func (db *DB) ClearSyncStatus() error {
	if err := db.ready(); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM sync_status`)
	return err
}
