package store

// Queue item statuses. A successfully sent item is deleted rather than
// marked, so there is no terminal "sent" status.
const (
	QueueStatusPending = "pending"
	QueueStatusSending = "sending"
)

// Per-conversation sync states.
const (
	SyncStateSyncing = "syncing"
	SyncStateSynced  = "synced"
	SyncStateError   = "error"
	SyncStateOffline = "offline"
)

// QueueItem is one outbound message awaiting transmission.
type QueueItem struct {
	ID             string
	ConversationID string
	Content        string
	ContentType    string // text, image, file, post_share
	Attachments    []string
	Timestamp      int64
	RetryCount     int
	Status         string // pending, sending
}

// OfflineAction is a queued non-message side effect (mark read, delete
// message, ...) replayed when connectivity returns.
type OfflineAction struct {
	ID         string
	Kind       string
	Payload    string // JSON, shape owned by the action kind
	Timestamp  int64
	RetryCount int
	MaxRetries int
}

// FailedMessage is a queue item that exhausted its retries. Pruned
// after seven days unless manually retried.
type FailedMessage struct {
	ID                string
	OriginalMessageID string
	ConversationID    string
	Content           string
	ContentType       string
	OriginalTimestamp int64
	FailureReason     string
	Timestamp         int64
	RetryCount        int
}

// SyncStatus is the per-conversation sync state surfaced to the UI.
type SyncStatus struct {
	ConversationID  string
	Status          string // syncing, synced, error, offline
	Progress        int    // 0..100
	PendingMessages int
	LastSyncTime    int64
	ErrorMessage    string
	RetryCount      int
}

// KeyPairRecord is a persisted asymmetric key pair. The newest record
// per user is the active pair; rotation inserts a new record instead
// of mutating the old one.
type KeyPairRecord struct {
	ID         int64
	UserID     string
	PublicKey  []byte // SPKI DER
	PrivateKey []byte // PKCS#8 DER
	CreatedAt  int64
}

// PeerKeyRecord caches another user's public key.
type PeerKeyRecord struct {
	UserID    string
	PublicKey []byte // SPKI DER
	CreatedAt int64
}

// QueueCounts aggregates queue table sizes for stats reporting.
type QueueCounts struct {
	Pending        int
	Sending        int
	Failed         int
	OfflineActions int
}
