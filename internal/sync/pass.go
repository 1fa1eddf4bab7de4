package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/couriermsg/courier/internal/action"
	"github.com/couriermsg/courier/internal/bus"
	"github.com/couriermsg/courier/internal/store"
	"github.com/couriermsg/courier/internal/transport"
)

// SyncNow runs one full sync pass: drain pending messages in FIFO
// order, execute queued actions, prune expired failed messages. At
// most one pass runs at a time; a second call while one is active is a
// no-op, as is any call while offline.
func (e *Engine) SyncNow(ctx context.Context) {
	e.mu.Lock()
	if !e.online || e.syncing {
		e.mu.Unlock()
		return
	}
	e.syncing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	sent := e.drainMessages(ctx)
	executed := e.drainActions(ctx)
	pruned := e.pruneFailed()

	e.bus.Publish(bus.Event{
		Kind:      "sync.pass_completed",
		Timestamp: time.Now(),
		Payload:   map[string]int{"sent": sent, "executed": executed, "pruned": int(pruned)},
	})
}

func (e *Engine) drainMessages(ctx context.Context) int {
	pending, err := e.db.PendingMessages()
	if err != nil {
		e.logger.Warn("pending scan failed", zap.Error(err))
		return 0
	}

	totals := make(map[string]int)
	for _, item := range pending {
		totals[item.ConversationID]++
	}
	for conv, n := range totals {
		e.monitor.SetSyncing(conv, n)
	}

	sent := 0
	done := make(map[string]int)
	for i := range pending {
		item := &pending[i]
		if ctx.Err() != nil || !e.Online() {
			break
		}

		// An item may have been sent, cleared, or grabbed by its
		// retry timer since the scan; the atomic claim skips those.
		claimed, err := e.db.ClaimPending(item.ID)
		if err != nil {
			e.logger.Warn("claim failed", zap.Error(err), zap.String("queue_id", item.ID))
			continue
		}
		if !claimed {
			continue
		}

		if !e.transmit(ctx, item) {
			continue
		}
		sent++
		done[item.ConversationID]++
		conv := item.ConversationID
		if remaining := totals[conv] - done[conv]; remaining > 0 {
			e.monitor.UpdateProgress(conv, done[conv]*100/totals[conv], remaining)
		}
	}

	e.settleDrained(totals)
	return sent
}

// settleDrained marks conversations whose backlog reached zero as
// synced. Conversations that ended the pass in error keep that state.
func (e *Engine) settleDrained(totals map[string]int) {
	counts, err := e.db.PendingByConversation()
	if err != nil {
		return
	}
	for conv := range totals {
		if counts[conv] != 0 {
			continue
		}
		s, err := e.db.GetSyncStatus(conv)
		if err == nil && s != nil && s.Status == store.SyncStateError {
			continue
		}
		e.monitor.MarkSynced(conv)
	}
}

// settleConversation updates the monitor after a send outside a pass.
func (e *Engine) settleConversation(conversationID string) {
	counts, err := e.db.PendingByConversation()
	if err != nil {
		return
	}
	if n := counts[conversationID]; n > 0 {
		e.monitor.SetSyncing(conversationID, n)
		return
	}
	e.monitor.MarkSynced(conversationID)
}

// transmit sends one item already in sending state. Returns true when
// the item was delivered and removed.
func (e *Engine) transmit(ctx context.Context, item *store.QueueItem) bool {
	if err := e.remote.Send(ctx, item.ConversationID, item.Content, item.ContentType, item.ID); err != nil {
		e.handleSendFailure(item, err)
		return false
	}

	if err := e.db.DeleteQueueItem(item.ID); err != nil {
		e.logger.Warn("sent item not removed", zap.Error(err), zap.String("queue_id", item.ID))
	}
	e.cancelTimer(item.ID)
	e.logger.Info("message sent",
		zap.String("queue_id", item.ID),
		zap.String("conversation_id", item.ConversationID))
	e.bus.Publish(bus.Event{
		Kind:      "sync.message_sent",
		Timestamp: time.Now(),
		Payload:   map[string]string{"queue_id": item.ID, "conversation_id": item.ConversationID},
	})
	return true
}

func (e *Engine) handleSendFailure(item *store.QueueItem, sendErr error) {
	next := item.RetryCount + 1
	if !transport.Retryable(sendErr) || next >= maxMessageRetries {
		e.demote(item, sendErr)
		return
	}

	count, err := e.db.ReleaseForRetry(item.ID)
	if err != nil {
		e.logger.Warn("release for retry failed", zap.Error(err), zap.String("queue_id", item.ID))
		return
	}
	delay := e.backoffDelay(count)
	e.logger.Warn("send failed, retry scheduled",
		zap.Error(sendErr),
		zap.String("queue_id", item.ID),
		zap.Int("retry_count", count),
		zap.Duration("delay", delay))
	e.scheduleRetry(item.ID, delay, e.retryMessage)
}

// demote moves an exhausted or permanently rejected message to the
// failed table.
func (e *Engine) demote(item *store.QueueItem, sendErr error) {
	failed, err := e.db.DemoteMessage(item.ID, uuid.NewString(), sendErr.Error())
	if err != nil {
		e.logger.Error("demotion failed", zap.Error(err), zap.String("queue_id", item.ID))
		return
	}
	e.cancelTimer(item.ID)
	if failed == nil {
		return
	}

	e.logger.Error("message demoted to failed",
		zap.String("queue_id", item.ID),
		zap.String("conversation_id", item.ConversationID),
		zap.String("reason", sendErr.Error()))
	e.monitor.MarkError(item.ConversationID, sendErr.Error())
	e.bus.Publish(bus.Event{
		Kind:      "sync.message_failed",
		Timestamp: time.Now(),
		Payload: map[string]string{
			"queue_id":        item.ID,
			"failed_id":       failed.ID,
			"conversation_id": item.ConversationID,
			"reason":          sendErr.Error(),
		},
	})
}

func (e *Engine) drainActions(ctx context.Context) int {
	actions, err := e.db.PendingActions()
	if err != nil {
		e.logger.Warn("action scan failed", zap.Error(err))
		return 0
	}

	executed := 0
	for i := range actions {
		if ctx.Err() != nil || !e.Online() {
			break
		}
		if e.executeAction(ctx, &actions[i]) {
			executed++
		}
	}
	return executed
}

// executeAction runs one offline action end to end. A single-flight
// guard keeps a retry timer and a concurrent pass from double-executing
// the same action.
func (e *Engine) executeAction(ctx context.Context, a *store.OfflineAction) bool {
	e.mu.Lock()
	if _, busy := e.inflight[a.ID]; busy {
		e.mu.Unlock()
		return false
	}
	e.inflight[a.ID] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, a.ID)
		e.mu.Unlock()
	}()

	// Unknown or undecodable actions never reach the transport.
	if _, err := action.Decode(action.Kind(a.Kind), json.RawMessage(a.Payload)); err != nil {
		e.dropAction(a, err)
		return false
	}

	if err := e.remote.Execute(ctx, action.Kind(a.Kind), json.RawMessage(a.Payload)); err != nil {
		e.handleActionFailure(a, err)
		return false
	}

	if err := e.db.DeleteAction(a.ID); err != nil {
		e.logger.Warn("executed action not removed", zap.Error(err), zap.String("action_id", a.ID))
	}
	e.cancelTimer(a.ID)
	e.logger.Info("action executed", zap.String("action_id", a.ID), zap.String("kind", a.Kind))
	e.bus.Publish(bus.Event{
		Kind:      "sync.action_executed",
		Timestamp: time.Now(),
		Payload:   map[string]string{"action_id": a.ID, "kind": a.Kind},
	})
	return true
}

func (e *Engine) handleActionFailure(a *store.OfflineAction, execErr error) {
	next := a.RetryCount + 1
	if !transport.Retryable(execErr) || next >= a.MaxRetries {
		e.dropAction(a, execErr)
		return
	}

	count, err := e.db.BumpActionRetry(a.ID)
	if err != nil {
		e.logger.Warn("action retry bookkeeping failed", zap.Error(err), zap.String("action_id", a.ID))
		return
	}
	delay := e.backoffDelay(count)
	e.logger.Warn("action failed, retry scheduled",
		zap.Error(execErr),
		zap.String("action_id", a.ID),
		zap.Int("retry_count", count),
		zap.Duration("delay", delay))
	e.scheduleRetry(a.ID, delay, e.retryAction)
}

// dropAction removes an action permanently. Unlike messages there is
// no failed table for actions, so exhaustion is terminal.
func (e *Engine) dropAction(a *store.OfflineAction, cause error) {
	if err := e.db.DeleteAction(a.ID); err != nil {
		e.logger.Warn("dropped action not removed", zap.Error(err), zap.String("action_id", a.ID))
	}
	e.cancelTimer(a.ID)
	e.logger.Error("offline action dropped",
		zap.Error(cause),
		zap.String("action_id", a.ID),
		zap.String("kind", a.Kind))
	e.bus.Publish(bus.Event{
		Kind:      "sync.action_dropped",
		Timestamp: time.Now(),
		Payload:   map[string]string{"action_id": a.ID, "kind": a.Kind, "reason": cause.Error()},
	})
}

func (e *Engine) pruneFailed() int64 {
	cutoff := time.Now().Add(-failedRetention).UnixMilli()
	n, err := e.db.PruneFailed(cutoff)
	if err != nil {
		e.logger.Warn("failed prune skipped", zap.Error(err))
		return 0
	}
	if n > 0 {
		e.logger.Info("pruned expired failed messages", zap.Int64("count", n))
	}
	return n
}

// backoffDelay returns min(retryBase × 2^count, retryMax).
func (e *Engine) backoffDelay(count int) time.Duration {
	if count > 10 {
		return e.retryMax
	}
	d := e.retryBase << count
	if d > e.retryMax {
		d = e.retryMax
	}
	return d
}

// scheduleRetry arms (or re-arms) the per-item retry timer. A timer
// firing while offline leaves the item pending for the reconnect pass.
func (e *Engine) scheduleRetry(id string, delay time.Duration, fire func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
	}
	e.timers[id] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, id)
		online := e.online
		e.mu.Unlock()
		if !online {
			return
		}
		fire(id)
	})
}

func (e *Engine) cancelTimer(id string) {
	e.mu.Lock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()
}

func (e *Engine) cancelAllTimers() {
	e.mu.Lock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()
}

// retryMessage is the timer path for one message. The atomic claim
// guards against the item having been sent, cleared, or picked up by a
// concurrent pass in the meantime.
func (e *Engine) retryMessage(id string) {
	claimed, err := e.db.ClaimPending(id)
	if err != nil || !claimed {
		return
	}
	item, err := e.db.GetQueueItem(id)
	if err != nil || item == nil {
		return
	}

	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	if e.transmit(ctx, item) {
		e.settleConversation(item.ConversationID)
	}
}

// retryAction is the timer path for one offline action.
func (e *Engine) retryAction(id string) {
	a, err := e.db.GetAction(id)
	if err != nil || a == nil {
		return
	}

	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	e.executeAction(ctx, a)
}
