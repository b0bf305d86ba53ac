package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"allocator/internal/report"
)

// Reply error kinds. They mirror the HTTP status mapping so callers can tell a
// bad request from a missing plan without parsing messages.
const (
	ErrorKindInvalidAmount = "invalid_amount"
	ErrorKindNotFound      = "not_found"
	ErrorKindEmptyPlan     = "empty_plan"
	ErrorKindInternal      = "internal"
)

var ErrMissingRequestID = errors.New("missing request_id")

// AllocationRequestMessage asks a worker to allocate Amount across Plan. An
// empty Plan means the worker's default plan. Amount is passed through
// unparsed so grouping separators survive the trip.
type AllocationRequestMessage struct {
	RequestID string    `json:"request_id"`
	Plan      string    `json:"plan,omitempty"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAllocationRequest creates a request with a fresh ID.
func NewAllocationRequest(plan, amount string) *AllocationRequestMessage {
	return &AllocationRequestMessage{
		RequestID: uuid.NewString(),
		Plan:      plan,
		Amount:    amount,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *AllocationRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// AllocationRequestFromJSON decodes a request. The amount itself is not
// validated here.
func AllocationRequestFromJSON(data []byte) (*AllocationRequestMessage, error) {
	var msg AllocationRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.RequestID == "" {
		return nil, ErrMissingRequestID
	}
	return &msg, nil
}

// AllocationReplyMessage answers one request. Exactly one of Result and
// Error is set.
type AllocationReplyMessage struct {
	RequestID string           `json:"request_id"`
	Plan      string           `json:"plan,omitempty"`
	Result    *report.Document `json:"result,omitempty"`
	Warning   string           `json:"warning,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// OK reports whether the request succeeded.
func (m *AllocationReplyMessage) OK() bool {
	return m.Error == "" && m.Result != nil
}

// ToJSON converts the message to JSON bytes
func (m *AllocationReplyMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// AllocationReplyFromJSON decodes a reply.
func AllocationReplyFromJSON(data []byte) (*AllocationReplyMessage, error) {
	var msg AllocationReplyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
