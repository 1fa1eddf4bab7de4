// Package sync drives delivery of queued messages and offline actions
// to the remote service, with retry, backoff, and demotion of
// exhausted items to the failed table.
package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/couriermsg/courier/internal/action"
	"github.com/couriermsg/courier/internal/bus"
	"github.com/couriermsg/courier/internal/status"
	"github.com/couriermsg/courier/internal/store"
	"github.com/couriermsg/courier/internal/transport"
)

const (
	// A message is demoted to the failed table once its retry count
	// reaches this limit.
	maxMessageRetries = 5

	// Periodic fallback pass. Bounds recovery time when an online
	// transition event is missed.
	defaultPassInterval = 30 * time.Second

	// Failed messages older than this are pruned during a pass.
	failedRetention = 7 * 24 * time.Hour

	defaultRetryBase = time.Second
	defaultRetryMax  = time.Minute
)

// Engine owns the outbound queues. Messages and actions are persisted
// first and transmitted asynchronously; callers learn the outcome from
// status events, never from the queueing call itself.
type Engine struct {
	db      *store.DB
	remote  transport.Transport
	monitor *status.Monitor
	bus     *bus.Bus
	logger  *zap.Logger

	mu       sync.Mutex
	online   bool
	syncing  bool
	inflight map[string]struct{}
	timers   map[string]*time.Timer
	runCtx   context.Context
	cancel   context.CancelFunc

	passInterval time.Duration
	retryBase    time.Duration
	retryMax     time.Duration
}

// NewEngine creates an engine. It starts offline; connectivity is
// reported via SetOnline.
func NewEngine(db *store.DB, remote transport.Transport, monitor *status.Monitor, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:           db,
		remote:       remote,
		monitor:      monitor,
		bus:          b,
		logger:       logger,
		inflight:     make(map[string]struct{}),
		timers:       make(map[string]*time.Timer),
		runCtx:       context.Background(),
		passInterval: defaultPassInterval,
		retryBase:    defaultRetryBase,
		retryMax:     defaultRetryMax,
	}
}

// Start requeues sends interrupted by an unclean shutdown and begins
// the periodic fallback loop. It also listens for retry requests from
// the status monitor.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.runCtx = ctx
	e.cancel = cancel
	e.mu.Unlock()

	if n, err := e.db.ResetSendingToPending(); err != nil {
		e.logger.Warn("startup requeue failed", zap.Error(err))
	} else if n > 0 {
		e.logger.Info("requeued interrupted sends", zap.Int64("count", n))
	}

	ch, unsub := e.bus.Subscribe("status.retry_requested", 16)
	go e.loop(ctx, ch, unsub)
}

// Stop cancels the loop and all scheduled retries.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.cancelAllTimers()
}

func (e *Engine) loop(ctx context.Context, retries <-chan bus.Event, unsub func()) {
	defer unsub()
	ticker := time.NewTicker(e.passInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.SyncNow(ctx)
		case <-retries:
			e.SyncNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Online reports the last connectivity state passed to SetOnline.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SetOnline records a connectivity transition. Going online triggers a
// full sync pass; going offline marks backlogged conversations and
// lets in-flight sends fail naturally.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	if e.online == online {
		e.mu.Unlock()
		return
	}
	e.online = online
	ctx := e.runCtx
	e.mu.Unlock()

	e.bus.Publish(bus.Event{
		Kind:      "sync.online_changed",
		Timestamp: time.Now(),
		Payload:   map[string]bool{"online": online},
	})

	if online {
		e.logger.Info("connectivity restored")
		go e.SyncNow(ctx)
		return
	}
	e.logger.Info("connectivity lost")
	e.markPendingOffline()
}

// QueueMessage persists an outbound message and returns its id
// immediately. When online the send starts right away; the outcome is
// reported through status events only.
func (e *Engine) QueueMessage(conversationID, content, contentType string, attachments []string) (string, error) {
	e.mu.Lock()
	online := e.online
	ctx := e.runCtx
	e.mu.Unlock()

	item := &store.QueueItem{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		ContentType:    contentType,
		Attachments:    attachments,
		Timestamp:      time.Now().UnixMilli(),
		Status:         store.QueueStatusPending,
	}
	if online {
		item.Status = store.QueueStatusSending
	}

	if err := e.db.EnqueueMessage(item); err != nil {
		if !errors.Is(err, store.ErrUnavailable) {
			return "", err
		}
		e.logger.Warn("message not persisted, store unavailable", zap.String("queue_id", item.ID))
	}

	e.bus.Publish(bus.Event{
		Kind:      "sync.message_queued",
		Timestamp: time.Now(),
		Payload:   map[string]string{"queue_id": item.ID, "conversation_id": conversationID},
	})

	if online {
		go func() {
			if e.transmit(ctx, item) {
				e.settleConversation(item.ConversationID)
			}
		}()
	} else {
		pending := 1
		if counts, err := e.db.PendingByConversation(); err == nil {
			pending = counts[conversationID]
		}
		e.monitor.MarkOffline(conversationID, pending)
	}
	return item.ID, nil
}

// QueueOfflineAction persists a non-message side effect and returns
// its id immediately. When online it executes right away.
func (e *Engine) QueueOfflineAction(req action.Request) (string, error) {
	if !action.Known(req.Kind) {
		e.logger.Warn("queueing unknown action kind", zap.String("kind", string(req.Kind)))
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = action.DefaultMaxRetries
	}

	a := &store.OfflineAction{
		ID:         uuid.NewString(),
		Kind:       string(req.Kind),
		Payload:    string(req.Payload),
		Timestamp:  time.Now().UnixMilli(),
		MaxRetries: maxRetries,
	}
	if err := e.db.EnqueueAction(a); err != nil {
		if !errors.Is(err, store.ErrUnavailable) {
			return "", err
		}
		e.logger.Warn("action not persisted, store unavailable", zap.String("action_id", a.ID))
	}

	e.bus.Publish(bus.Event{
		Kind:      "sync.action_queued",
		Timestamp: time.Now(),
		Payload:   map[string]string{"action_id": a.ID, "kind": a.Kind},
	})

	e.mu.Lock()
	online := e.online
	ctx := e.runCtx
	e.mu.Unlock()
	if online {
		go e.executeAction(ctx, a)
	}
	return a.ID, nil
}

// RetryFailedMessage moves one failed message back to the pending
// queue with a fresh retry budget and, when online, attempts it
// immediately. Reports whether the failed message existed.
func (e *Engine) RetryFailedMessage(failedID string) (bool, error) {
	item, err := e.db.RetryFailed(failedID)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			e.logger.Warn("retry skipped, store unavailable", zap.String("failed_id", failedID))
			return false, nil
		}
		return false, err
	}
	if item == nil {
		return false, nil
	}

	// The queue id is reused, so drop any stale timer under it.
	e.cancelTimer(item.ID)
	e.logger.Info("failed message requeued",
		zap.String("failed_id", failedID),
		zap.String("queue_id", item.ID))
	e.bus.Publish(bus.Event{
		Kind:      "sync.message_queued",
		Timestamp: time.Now(),
		Payload:   map[string]string{"queue_id": item.ID, "conversation_id": item.ConversationID, "requeued": "true"},
	})

	e.mu.Lock()
	online := e.online
	e.mu.Unlock()
	if online {
		go e.retryMessage(item.ID)
	}
	return true, nil
}

// Stats returns queue depth counts. Read-only; degrades to zeros when
// the store is unavailable.
func (e *Engine) Stats() (store.QueueCounts, error) {
	var c store.QueueCounts

	pending, sending, err := e.db.CountQueue()
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			e.logger.Warn("stats degraded, store unavailable")
			return c, nil
		}
		return c, err
	}
	c.Pending, c.Sending = pending, sending

	if c.Failed, err = e.db.CountFailed(); err != nil {
		return c, err
	}
	if c.OfflineActions, err = e.db.CountActions(); err != nil {
		return c, err
	}
	return c, nil
}

// ClearAllQueues empties all four queue tables and cancels every
// scheduled retry. Used on logout; idempotent.
func (e *Engine) ClearAllQueues() error {
	e.cancelAllTimers()

	err := errors.Join(
		e.db.ClearMessageQueue(),
		e.db.ClearActions(),
		e.db.ClearFailed(),
		e.db.ClearSyncStatus(),
	)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			e.logger.Warn("clear skipped, store unavailable")
			return nil
		}
		return err
	}
	e.logger.Info("cleared all queues")
	return nil
}

// markPendingOffline tells the monitor which conversations still hold
// a backlog after connectivity is lost.
func (e *Engine) markPendingOffline() {
	counts, err := e.db.PendingByConversation()
	if err != nil {
		e.logger.Warn("offline bookkeeping skipped", zap.Error(err))
		return
	}
	for conv, n := range counts {
		e.monitor.MarkOffline(conv, n)
	}
}
