package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

func encodeAttachments(attachments []string) (string, error) {
	if len(attachments) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return "", fmt.Errorf("encode attachments: %w", err)
	}
	return string(data), nil
}

func decodeAttachments(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var attachments []string
	if err := json.Unmarshal([]byte(data), &attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	return attachments, nil
}

// EnqueueMessage inserts a new queue item.
func (db *DB) EnqueueMessage(item *QueueItem) error {
	if err := db.ready(); err != nil {
		return err
	}
	attachments, err := encodeAttachments(item.Attachments)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO message_queue (id, conversation_id, content, content_type, attachments, timestamp, retry_count, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ConversationID, item.Content, item.ContentType, attachments,
		item.Timestamp, item.RetryCount, item.Status)
	return err
}

// GetQueueItem returns the item by id, or nil when absent.
func (db *DB) GetQueueItem(id string) (*QueueItem, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	row := db.QueryRow(`
		SELECT id, conversation_id, content, content_type, attachments, timestamp, retry_count, status
		FROM message_queue WHERE id = ?`, id)
	return scanQueueItem(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var item QueueItem
	var attachments string
	err := row.Scan(&item.ID, &item.ConversationID, &item.Content, &item.ContentType,
		&attachments, &item.Timestamp, &item.RetryCount, &item.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	item.Attachments, err = decodeAttachments(attachments)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// PendingMessages returns all pending items in FIFO creation order.
func (db *DB) PendingMessages() ([]QueueItem, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, content, content_type, attachments, timestamp, retry_count, status
		FROM message_queue WHERE status = 'pending'
		ORDER BY timestamp ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ClaimPending atomically flips a pending item to sending. Returns
// false when the item is gone or already claimed, which makes the
// retry-timer and sync-pass paths safe to race.
func (db *DB) ClaimPending(id string) (bool, error) {
	if err := db.ready(); err != nil {
		return false, err
	}
	res, err := db.Exec(`UPDATE message_queue SET status = 'sending' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseForRetry increments the retry count and returns the item to
// pending in one transaction, reporting the new count.
func (db *DB) ReleaseForRetry(id string) (int, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE message_queue SET retry_count = retry_count + 1, status = 'pending' WHERE id = ?`, id); err != nil {
		return 0, err
	}
	var count int
	if err := tx.QueryRow(`SELECT retry_count FROM message_queue WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, err
	}
	return count, tx.Commit()
}

// DeleteQueueItem removes a queue item. Deleting an absent item is not
// an error.
func (db *DB) DeleteQueueItem(id string) error {
	if err := db.ready(); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM message_queue WHERE id = ?`, id)
	return err
}

// PendingByConversation returns the number of undelivered items
// (pending or sending) per conversation.
func (db *DB) PendingByConversation() (map[string]int, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT conversation_id, COUNT(*) FROM message_queue GROUP BY conversation_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var conv string
		var n int
		if err := rows.Scan(&conv, &n); err != nil {
			return nil, err
		}
		counts[conv] = n
	}
	return counts, rows.Err()
}

// OldestPendingTimestamp returns the timestamp of the oldest pending
// item, or 0 when the queue is empty.
func (db *DB) OldestPendingTimestamp() (int64, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	var ts int64
	err := db.QueryRow(`SELECT COALESCE(MIN(timestamp), 0) FROM message_queue WHERE status = 'pending'`).Scan(&ts)
	return ts, err
}

// CountQueue returns the number of pending and sending items.
func (db *DB) CountQueue() (pending, sending int, err error) {
	if err := db.ready(); err != nil {
		return 0, 0, err
	}
	rows, err := db.Query(`SELECT status, COUNT(*) FROM message_queue GROUP BY status`)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, err
		}
		switch status {
		case QueueStatusPending:
			pending = n
		case QueueStatusSending:
			sending = n
		}
	}
	return pending, sending, rows.Err()
}

// ResetSendingToPending returns items stuck in sending to pending.
// Run at startup: a crash mid-send leaves sending rows behind that no
// goroutine owns anymore.
func (db *DB) ResetSendingToPending() (int64, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	res, err := db.Exec(`UPDATE message_queue SET status = 'pending' WHERE status = 'sending'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearMessageQueue removes every queue item.
func (db *DB) ClearMessageQueue() error {
	if err := db.ready(); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM message_queue`)
	return err
}
