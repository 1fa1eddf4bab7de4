// Package courier provides offline-first encrypted message delivery:
// messages are encrypted with a hybrid RSA-OAEP/AES-GCM scheme, queued
// durably in sqlite, and synced to a remote message service with
// exponential-backoff retries whenever connectivity allows.
//
// The Client facade wires the subsystems together:
//
//	client, err := courier.New(courier.Options{
//		DBPath:  "/home/me/.courier/profiles/default/courier.db",
//		BaseURL: "https://sync.example.com/v1",
//		UserID:  "alice",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Queue survives restarts and offline periods.
//	id, _ := client.Sync().QueueMessage("conv-1", ciphertext, "text", nil)
//
//	// Flip connectivity when the service is reachable; the engine
//	// drains the backlog in order.
//	client.Sync().SetOnline(true)
//
//	// Watch per-conversation sync state.
//	events, unsub := client.Status().Subscribe(16)
//	defer unsub()
//
// Encryption and queueing are deliberately separate: callers encrypt
// with client.Keys() and queue the resulting envelope, so the queue
// never holds plaintext for conversations with established keys.
//
// The cmd/courierd daemon runs the same composition as a long-lived
// process with connectivity probing, and cmd/courierctl offers queue
// and key management against a profile database.
package courier
