// Package ws provides the WebSocket progress feed for analysis runs.
package ws

import "github.com/edu-data/mas/internal/domain"

// Message types from client to server
const (
	TypeHello          = "hello"
	TypeSubscribeRun   = "subscribe_run"
	TypeUnsubscribeRun = "unsubscribe_run"
	TypeCancelRun      = "cancel_run"
)

// Message types from server to client
const (
	TypeHelloAck     = "hello_ack"
	TypeSubscribed   = "subscribed"
	TypeSnapshot     = "snapshot"
	TypeUnsubscribed = "unsubscribed"
	TypeEvent        = "event"
	TypeError        = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// HelloMessage is sent by the client to establish the connection.
type HelloMessage struct {
	BaseMessage
	APIKey     string            `json:"api_key,omitempty"`
	ClientMeta map[string]string `json:"client_meta,omitempty"`
}

// HelloAckMessage is sent by the server after a successful hello.
type HelloAckMessage struct {
	BaseMessage
	ConnectionID string `json:"connection_id"`
}

// SubscribeRunMessage is sent by the client to watch a run's timeline.
// AfterSeq skips events the client already holds.
type SubscribeRunMessage struct {
	BaseMessage
	AfterSeq int64 `json:"after_seq,omitempty"`
}

// UnsubscribeRunMessage stops watching a run.
type UnsubscribeRunMessage struct {
	BaseMessage
}

// CancelRunMessage asks the server to cancel a run.
type CancelRunMessage struct {
	BaseMessage
}

// SubscribedMessage acknowledges a subscription and reports how many
// timeline events the following snapshot or replay carries.
type SubscribedMessage struct {
	BaseMessage
	Replayed int `json:"replayed"`
}

// SnapshotMessage seeds a fresh subscriber with the current run state: the
// run row, per-agent execution records and the trailing timeline window.
// Live event frames follow.
type SnapshotMessage struct {
	BaseMessage
	Snapshot domain.RunSnapshot `json:"snapshot"`
}

// EventMessage wraps one timeline event for the wire. Around the snapshot
// boundary an event may arrive both inside the snapshot window and as a live
// frame; clients dedupe on Event.Seq.
type EventMessage struct {
	BaseMessage
	Event domain.TimelineEvent `json:"event"`
}

// ErrorMessage is sent by the server when an error occurs.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeUnauthorized   = "unauthorized"
	ErrorCodeHelloRequired  = "hello_required"
	ErrorCodeRunNotFound    = "run_not_found"
	ErrorCodeInternalError  = "internal_error"
)
