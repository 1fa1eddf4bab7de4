package store

import (
	"database/sql"
	"fmt"
	"time"
)

// DemoteMessage moves a queue item into the failed table in a single
// transaction, so the item and its failed record never coexist.
// Returns the created record, or nil when the item no longer exists.
func (db *DB) DemoteMessage(queueID, failedID, reason string) (*FailedMessage, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var item QueueItem
	var attachments string
	err = tx.QueryRow(`
		SELECT id, conversation_id, content, content_type, attachments, timestamp, retry_count, status
		FROM message_queue WHERE id = ?`, queueID).
		Scan(&item.ID, &item.ConversationID, &item.Content, &item.ContentType,
			&attachments, &item.Timestamp, &item.RetryCount, &item.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM message_queue WHERE id = ?`, queueID); err != nil {
		return nil, err
	}

	failed := &FailedMessage{
		ID:                failedID,
		OriginalMessageID: item.ID,
		ConversationID:    item.ConversationID,
		Content:           item.Content,
		ContentType:       item.ContentType,
		OriginalTimestamp: item.Timestamp,
		FailureReason:     reason,
		Timestamp:         time.Now().UnixMilli(),
		RetryCount:        item.RetryCount,
	}
	_, err = tx.Exec(`
		INSERT INTO failed_messages (id, original_message_id, conversation_id, content, content_type, original_timestamp, failure_reason, timestamp, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		failed.ID, failed.OriginalMessageID, failed.ConversationID, failed.Content,
		failed.ContentType, failed.OriginalTimestamp, failed.FailureReason,
		failed.Timestamp, failed.RetryCount)
	if err != nil {
		return nil, err
	}
	return failed, tx.Commit()
}

// RetryFailed re-creates a queue item from a failed message and removes
// the failed record, both in one transaction. The item re-enters the
// queue at the tail with a fresh timestamp and a reset retry count.
// Returns nil when no failed message has that id.
func (db *DB) RetryFailed(failedID string) (*QueueItem, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var f FailedMessage
	err = tx.QueryRow(`
		SELECT id, original_message_id, conversation_id, content, content_type, original_timestamp, failure_reason, timestamp, retry_count
		FROM failed_messages WHERE id = ?`, failedID).
		Scan(&f.ID, &f.OriginalMessageID, &f.ConversationID, &f.Content, &f.ContentType,
			&f.OriginalTimestamp, &f.FailureReason, &f.Timestamp, &f.RetryCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM failed_messages WHERE id = ?`, failedID); err != nil {
		return nil, err
	}

	item := &QueueItem{
		ID:             f.OriginalMessageID,
		ConversationID: f.ConversationID,
		Content:        f.Content,
		ContentType:    f.ContentType,
		Timestamp:      time.Now().UnixMilli(),
		RetryCount:     0,
		Status:         QueueStatusPending,
	}
	_, err = tx.Exec(`
		INSERT INTO message_queue (id, conversation_id, content, content_type, attachments, timestamp, retry_count, status)
		VALUES (?, ?, ?, ?, '[]', ?, 0, 'pending')`,
		item.ID, item.ConversationID, item.Content, item.ContentType, item.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("requeue failed message: %w", err)
	}
	return item, tx.Commit()
}

// ListFailed returns all failed messages, newest first.
func (db *DB) ListFailed() ([]FailedMessage, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	rows, err := db.Query(`
		SELECT id, original_message_id, conversation_id, content, content_type, original_timestamp, failure_reason, timestamp, retry_count
		FROM failed_messages ORDER BY timestamp DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var failed []FailedMessage
	for rows.Next() {
		var f FailedMessage
		if err := rows.Scan(&f.ID, &f.OriginalMessageID, &f.ConversationID, &f.Content, &f.ContentType,
			&f.OriginalTimestamp, &f.FailureReason, &f.Timestamp, &f.RetryCount); err != nil {
			return nil, err
		}
		failed = append(failed, f)
	}
	return failed, rows.Err()
}

// CountFailed returns the number of failed messages.
func (db *DB) CountFailed() (int, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM failed_messages`).Scan(&n)
	return n, err
}

// PruneFailed deletes failed messages recorded before cutoff, returning
// the number removed.
func (db *DB) PruneFailed(cutoff int64) (int64, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	res, err := db.Exec(`DELETE FROM failed_messages WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearFailed removes every failed message.
func (db *DB) ClearFailed() error {
	if err := db.ready(); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM failed_messages`)
	return err
}
