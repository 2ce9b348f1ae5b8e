package a2a

// Category classifies a failed worker invocation.
type Category string

const (
	Unreachable       Category = "UNREACHABLE"
	Timeout           Category = "TIMEOUT"
	MalformedResponse Category = "MALFORMED_RESPONSE"
	WorkerError       Category = "WORKER_ERROR"
)

// WorkerResult is the outcome of one worker invocation. It is a plain value:
// two results built from the same inputs compare equal with ==.
type WorkerResult struct {
	WorkerID string   `json:"worker_id"`
	OK       bool     `json:"ok"`
	Payload  string   `json:"payload,omitempty"`
	Category Category `json:"category,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Success records a worker's payload.
func Success(workerID, payload string) WorkerResult {
	return WorkerResult{WorkerID: workerID, OK: true, Payload: payload}
}

// Failure records why a worker could not contribute.
func Failure(workerID string, cat Category, msg string) WorkerResult {
	return WorkerResult{WorkerID: workerID, Category: cat, Message: msg}
}
