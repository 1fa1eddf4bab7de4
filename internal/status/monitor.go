// Package status tracks per-conversation sync health and publishes
// snapshots on every transition.
package status

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/couriermsg/courier/internal/bus"
	"github.com/couriermsg/courier/internal/store"
)

const (
	healthInterval = 5 * time.Second
	stallTimeout   = 5 * time.Minute
	stallMessage   = "Sync stalled (timeout)"

	// Conversations in error state are re-armed at most this many times.
	maxSyncRetries = 3

	// Naive drain estimate used by QueueHealth.
	perItemEstimate = time.Second
)

// Health is an advisory aggregate over the queue tables.
type Health struct {
	TotalPending        int           `json:"totalPending"`
	FailedMessages      int           `json:"failedMessages"`
	InProgress          int           `json:"inProgress"`
	OldestPending       int64         `json:"oldestPending,omitempty"`
	EstimatedTimeToSync time.Duration `json:"estimatedTimeToSync"`
}

// Monitor persists conversation sync state and pushes a snapshot to
// bus subscribers on every transition. A background tick force-fails
// conversations stuck in syncing so a hung send cannot block the
// indicator forever.
type Monitor struct {
	mu     sync.Mutex
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewMonitor creates a monitor over the given store.
func NewMonitor(db *store.DB, b *bus.Bus, logger *zap.Logger) *Monitor {
	return &Monitor{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start begins the periodic health check.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop stops the health check.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.healthCheck()
		case <-ctx.Done():
			return
		}
	}
}

// healthCheck transitions syncing conversations whose last activity is
// older than stallTimeout to error.
func (m *Monitor) healthCheck() {
	rows, err := m.db.ListSyncStatusesByState(store.SyncStateSyncing)
	if err != nil {
		m.logger.Warn("health check skipped", zap.Error(err))
		return
	}
	cutoff := time.Now().Add(-stallTimeout).UnixMilli()
	for _, row := range rows {
		if row.LastSyncTime >= cutoff {
			continue
		}
		m.logger.Warn("sync stalled",
			zap.String("conversation_id", row.ConversationID),
			zap.Int64("last_sync_time", row.LastSyncTime))
		m.MarkError(row.ConversationID, stallMessage)
	}
}

// apply loads the current row, mutates it, stamps lastSyncTime,
// persists, and publishes the snapshot. Store failures degrade to a
// logged no-op.
func (m *Monitor) apply(conversationID string, mutate func(*store.SyncStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.db.GetSyncStatus(conversationID)
	if err != nil {
		m.logger.Warn("sync status read failed", zap.Error(err), zap.String("conversation_id", conversationID))
		return
	}
	if cur == nil {
		cur = &store.SyncStatus{ConversationID: conversationID, Status: store.SyncStateOffline}
	}
	mutate(cur)
	cur.LastSyncTime = time.Now().UnixMilli()

	if err := m.db.UpsertSyncStatus(cur); err != nil {
		m.logger.Warn("sync status write failed", zap.Error(err), zap.String("conversation_id", conversationID))
		return
	}
	m.bus.Publish(bus.Event{
		Kind:      "status.changed",
		Timestamp: time.Now(),
		Payload:   *cur,
	})
}

// SetSyncing marks a conversation as actively syncing with the given
// backlog.
func (m *Monitor) SetSyncing(conversationID string, pending int) {
	m.apply(conversationID, func(s *store.SyncStatus) {
		s.Status = store.SyncStateSyncing
		s.Progress = 0
		s.PendingMessages = pending
		s.ErrorMessage = ""
	})
}

// UpdateProgress reports partial drain progress for a syncing
// conversation and clears any previous error.
func (m *Monitor) UpdateProgress(conversationID string, progress, pending int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	m.apply(conversationID, func(s *store.SyncStatus) {
		s.Status = store.SyncStateSyncing
		s.Progress = progress
		s.PendingMessages = pending
		s.ErrorMessage = ""
	})
}

// MarkSynced records a fully drained conversation.
func (m *Monitor) MarkSynced(conversationID string) {
	m.apply(conversationID, func(s *store.SyncStatus) {
		s.Status = store.SyncStateSynced
		s.Progress = 100
		s.PendingMessages = 0
		s.ErrorMessage = ""
		s.RetryCount = 0
	})
}

// MarkError records a failed conversation with a reason.
func (m *Monitor) MarkError(conversationID, message string) {
	m.apply(conversationID, func(s *store.SyncStatus) {
		s.Status = store.SyncStateError
		s.ErrorMessage = message
	})
}

// MarkOffline records a conversation waiting for connectivity.
func (m *Monitor) MarkOffline(conversationID string, pending int) {
	m.apply(conversationID, func(s *store.SyncStatus) {
		s.Status = store.SyncStateOffline
		s.PendingMessages = pending
		s.ErrorMessage = ""
	})
}

// Snapshot returns the persisted status for one conversation, or nil
// when none exists.
func (m *Monitor) Snapshot(conversationID string) (*store.SyncStatus, error) {
	s, err := m.db.GetSyncStatus(conversationID)
	if errors.Is(err, store.ErrUnavailable) {
		m.logger.Warn("sync status read degraded", zap.Error(err))
		return nil, nil
	}
	return s, err
}

// All returns the persisted status of every known conversation.
func (m *Monitor) All() ([]store.SyncStatus, error) {
	rows, err := m.db.ListSyncStatuses()
	if errors.Is(err, store.ErrUnavailable) {
		m.logger.Warn("sync status read degraded", zap.Error(err))
		return nil, nil
	}
	return rows, err
}

// QueueHealth aggregates queue depth into an advisory summary. The
// estimate assumes one second per pending item and promises nothing.
func (m *Monitor) QueueHealth() Health {
	var h Health

	pending, sending, err := m.db.CountQueue()
	if err != nil {
		m.logger.Warn("queue health degraded", zap.Error(err))
		return h
	}
	h.TotalPending = pending
	h.InProgress = sending
	h.EstimatedTimeToSync = time.Duration(pending) * perItemEstimate

	if h.FailedMessages, err = m.db.CountFailed(); err != nil {
		m.logger.Warn("queue health degraded", zap.Error(err))
	}
	if h.OldestPending, err = m.db.OldestPendingTimestamp(); err != nil {
		m.logger.Warn("queue health degraded", zap.Error(err))
	}
	return h
}

// RetryFailedSyncs re-arms conversations in error state that have not
// exhausted their retry budget, then asks the sync engine to take over
// via a retry_requested event. It does not retransmit anything itself.
// Returns the number of conversations re-armed.
func (m *Monitor) RetryFailedSyncs() int {
	rows, err := m.db.ListSyncStatusesByState(store.SyncStateError)
	if err != nil {
		m.logger.Warn("retry scan failed", zap.Error(err))
		return 0
	}

	var rearmed []string
	for _, row := range rows {
		if row.RetryCount >= maxSyncRetries {
			continue
		}
		m.apply(row.ConversationID, func(s *store.SyncStatus) {
			s.Status = store.SyncStateSyncing
			s.ErrorMessage = ""
			s.RetryCount++
		})
		rearmed = append(rearmed, row.ConversationID)
	}

	if len(rearmed) > 0 {
		m.logger.Info("re-armed failed syncs", zap.Int("conversations", len(rearmed)))
		m.bus.Publish(bus.Event{
			Kind:      "status.retry_requested",
			Timestamp: time.Now(),
			Payload:   rearmed,
		})
	}
	return len(rearmed)
}

// Subscribe returns a channel of status events and an unsubscribe
// function.
func (m *Monitor) Subscribe(buf int) (<-chan bus.Event, func()) {
	return m.bus.Subscribe("status.", buf)
}
