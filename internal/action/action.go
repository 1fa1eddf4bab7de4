// Package action defines the closed set of offline action kinds the
// sync engine can replay, each with its own payload type. Dispatch is
// by exhaustive switch; rows carrying a kind outside this set (schema
// drift from an older or newer build) are treated as failures, never
// executed blind.
package action

import (
	"encoding/json"
	"fmt"
)

// Kind tags an offline action variant.
type Kind string

const (
	KindMarkRead            Kind = "mark_read"
	KindDeleteMessage       Kind = "delete_message"
	KindLeaveConversation   Kind = "leave_conversation"
	KindArchiveConversation Kind = "archive_conversation"
)

// DefaultMaxRetries bounds replay attempts for a single action.
const DefaultMaxRetries = 3

// MarkReadPayload marks messages in a conversation as read.
type MarkReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// DeleteMessagePayload deletes a single message.
type DeleteMessagePayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// LeaveConversationPayload removes the user from a conversation.
type LeaveConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// ArchiveConversationPayload hides a conversation from the active list.
type ArchiveConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// Request is a validated action ready for queueing.
type Request struct {
	Kind       Kind
	Payload    json.RawMessage
	MaxRetries int
}

func newRequest(kind Kind, payload any) (Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Request{Kind: kind, Payload: data, MaxRetries: DefaultMaxRetries}, nil
}

// NewMarkRead builds a mark_read action.
func NewMarkRead(conversationID string, messageIDs []string) (Request, error) {
	return newRequest(KindMarkRead, MarkReadPayload{ConversationID: conversationID, MessageIDs: messageIDs})
}

// NewDeleteMessage builds a delete_message action.
func NewDeleteMessage(conversationID, messageID string) (Request, error) {
	return newRequest(KindDeleteMessage, DeleteMessagePayload{ConversationID: conversationID, MessageID: messageID})
}

// NewLeaveConversation builds a leave_conversation action.
func NewLeaveConversation(conversationID string) (Request, error) {
	return newRequest(KindLeaveConversation, LeaveConversationPayload{ConversationID: conversationID})
}

// NewArchiveConversation builds an archive_conversation action.
func NewArchiveConversation(conversationID string) (Request, error) {
	return newRequest(KindArchiveConversation, ArchiveConversationPayload{ConversationID: conversationID})
}

// Decode parses a stored payload into its kind's typed form. The
// switch is exhaustive over the closed set; an unknown kind is an
// error, not a silent pass-through.
func Decode(kind Kind, payload []byte) (any, error) {
	switch kind {
	case KindMarkRead:
		var p MarkReadPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case KindDeleteMessage:
		var p DeleteMessagePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case KindLeaveConversation:
		var p LeaveConversationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case KindArchiveConversation:
		var p ArchiveConversationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", kind)
	}
}

// Known reports whether kind belongs to the closed set.
func Known(kind Kind) bool {
	switch kind {
	case KindMarkRead, KindDeleteMessage, KindLeaveConversation, KindArchiveConversation:
		return true
	default:
		return false
	}
}
