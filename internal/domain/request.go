package domain

import "time"

// RequestId uniquely identifies a request for the life of the process.
type RequestId string

// InputKind tags the variant held by an Input.
type InputKind string

const (
	InputText       InputKind = "text"
	InputBinary     InputKind = "binary"
	InputJSON       InputKind = "json"
	InputMultimodal InputKind = "multimodal"
)

// Input is the tagged payload variant carried by a Request and produced as
// an Output. Multimodal is recursive: each named part is itself an Input,
// and the graph of parts must be acyclic (enforced by construction — parts
// are built bottom-up, never by reference).
type Input struct {
	Kind       InputKind
	Text       string
	Binary     []byte
	JSON       any
	Multimodal map[string]Input
}

// Parameters holds optional prediction parameters. A zero value means
// "unset", not "zero" — callers that care about the distinction should
// check the pointer fields.
type Parameters struct {
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	TopK        *int
	Stream      bool
	Custom      map[string]any
}

// RequestStatus tracks a request's position in the pipeline.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestGrouped    RequestStatus = "grouped"
	RequestDispatched RequestStatus = "dispatched"
	RequestCompleted  RequestStatus = "completed"
	RequestExpired    RequestStatus = "expired"
	RequestFailed     RequestStatus = "failed"
)

// Request is a single prediction request flowing from intake through the
// dispatcher to a terminal outcome delivered on Waiter exactly once.
type Request struct {
	ID       RequestId
	ModelID  ModelId
	Input    Input
	Params   Parameters
	SubmitAt time.Time
	Waiter   chan Result
}

// Result is the one-shot terminal event delivered to a Request's waiter:
// exactly one of Response or Err is set.
type Result struct {
	Response *Response
	Err      error
}
