package a2a

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Status is the outcome reported in a response envelope.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// TaskRequest is the request envelope used for worker dispatch and for
// remote tool invocation. Workers read Query; tools read Arguments.
type TaskRequest struct {
	CorrelationID string         `json:"correlation_id"`
	Query         string         `json:"query,omitempty"`
	Arguments     map[string]any `json:"arguments,omitempty"`
}

// TaskResponse is the response envelope.
type TaskResponse struct {
	CorrelationID string          `json:"correlation_id,omitempty"`
	Status        Status          `json:"status"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Completed builds a COMPLETED response carrying payload, which may be a
// string or any JSON-encodable value. A nil payload is sent as "".
func Completed(correlationID string, payload any) (*TaskResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if bytes.Equal(raw, []byte("null")) {
		raw = []byte(`""`)
	}
	return &TaskResponse{CorrelationID: correlationID, Status: StatusCompleted, Payload: raw}, nil
}

// Failed builds a FAILED response.
func Failed(correlationID, msg string) *TaskResponse {
	return &TaskResponse{CorrelationID: correlationID, Status: StatusFailed, Error: msg}
}

// Validate checks the envelope shape: COMPLETED carries a payload and no
// error, FAILED carries an error and no payload.
func (r *TaskResponse) Validate() error {
	switch r.Status {
	case StatusCompleted:
		if len(r.Payload) == 0 || bytes.Equal(bytes.TrimSpace(r.Payload), []byte("null")) {
			return errors.New("completed response without payload")
		}
		if !json.Valid(r.Payload) {
			return errors.New("payload is not valid JSON")
		}
		if r.Error != "" {
			return errors.New("completed response carries an error")
		}
	case StatusFailed:
		if r.Error == "" {
			return errors.New("failed response without error")
		}
		if len(r.Payload) > 0 {
			return errors.New("failed response carries a payload")
		}
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
	return nil
}

// PayloadText renders the payload as text: JSON strings are unquoted,
// structured payloads are returned as compact JSON.
func (r *TaskResponse) PayloadText() string {
	var s string
	if err := json.Unmarshal(r.Payload, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, r.Payload); err != nil {
		return string(r.Payload)
	}
	return buf.String()
}

// DecodeResponse strictly decodes one envelope. Unknown fields, trailing
// data and shape violations are errors.
func DecodeResponse(data []byte) (*TaskResponse, error) {
	var resp TaskResponse
	if err := decodeStrict(data, &resp); err != nil {
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return &resp, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("decode envelope: trailing data")
	}
	return nil
}
