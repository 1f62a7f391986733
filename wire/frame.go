// Package wire implements the frame-based message protocol a worker's
// nested client speaks to the cluster scheduler, transported over
// WebSocket. The scheduler side of the protocol lives with the scheduler;
// this package defines only the envelope, payloads, and codecs.
package wire

import (
	"encoding/json"
	"time"

	"github.com/geethanjalieswaran/distributed/id"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is the message envelope. Every message exchanged with the
// scheduler is a Frame.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Method names the operation for request frames (e.g., "task.submit").
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a response to its originating request.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Token carries auth credentials (typically only on the auth frame).
	Token string `json:"token,omitempty" msgpack:"token,omitempty"`

	// Data carries the method-specific payload.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Channel identifies the routing key for event frames. Task result
	// events use the task key as the channel.
	Channel string `json:"channel,omitempty" msgpack:"channel,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in a response or error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

// ── Well-known methods ──────────────────────────────

const (
	// Auth methods.
	MethodAuth = "auth"

	// Task methods.
	MethodTaskSubmit  = "task.submit"
	MethodTaskGather  = "task.gather"
	MethodTaskRelease = "task.release"

	// Worker methods (worker-to-scheduler control plane).
	MethodWorkerRegister = "worker.register"

	// Subscription methods.
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"
)

// ── Well-known error codes ──────────────────────────

const (
	ErrCodeBadRequest     = 400
	ErrCodeUnauthorized   = 401
	ErrCodeNotFound       = 404
	ErrCodeMethodNotFound = 405
	ErrCodeInternal       = 500
)

// ── Request/Response payloads ───────────────────────

// AuthRequest is sent by clients to authenticate.
type AuthRequest struct {
	Token  string `json:"token"`
	Format string `json:"format,omitempty"` // "json" (default) or "msgpack"
}

// AuthResponse is returned after successful authentication.
type AuthResponse struct {
	Format    string `json:"format"`
	SessionID string `json:"session_id"`
}

// TaskSubmitRequest submits a new task to the scheduler.
type TaskSubmitRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	// SubmitterKey identifies the task this submission was made from,
	// when submitted through a worker's nested client. The scheduler
	// uses it for dependency attribution.
	SubmitterKey string `json:"submitter_key,omitempty"`
}

// TaskSubmitResponse confirms task creation.
type TaskSubmitResponse struct {
	Key   string `json:"key"`
	State string `json:"state"`
}

// TaskGatherRequest asks for the results of already-submitted tasks.
type TaskGatherRequest struct {
	Keys []string `json:"keys"`
}

// TaskResult is the payload of a task result event frame, delivered on
// the channel named by the task key.
type TaskResult struct {
	Key    string          `json:"key"`
	State  string          `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// WorkerRegisterRequest announces a worker to the scheduler.
type WorkerRegisterRequest struct {
	WorkerID    string `json:"worker_id"`
	Concurrency int    `json:"concurrency"`
}

// SubscribeRequest subscribes to an event channel.
type SubscribeRequest struct {
	Channel string `json:"channel"`
}

// UnsubscribeRequest removes a subscription.
type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

// NewRequestFrame creates a new request frame.
func NewRequestFrame(method string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        id.NewFrameID(),
		Type:      FrameRequest,
		Method:    method,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResponseFrame creates a response to a request.
func NewResponseFrame(correlID string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        id.NewFrameID(),
		Type:      FrameResponse,
		CorrelID:  correlID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame creates an error response to a request.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	return &Frame{
		ID:       id.NewFrameID(),
		Type:     FrameErr,
		CorrelID: correlID,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewEventFrame creates an event frame for a channel.
func NewEventFrame(channel string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        id.NewFrameID(),
		Type:      FrameEvent,
		Channel:   channel,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}
