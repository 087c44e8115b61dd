package outcome

// Status is the tag of an Outcome.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Outcome is the tagged result every asynchronous operation resolves to.
// The zero value is Pending.
type Outcome[T any] struct {
	Status    Status    `json:"status"`
	Value     *T        `json:"value,omitempty"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Pending returns an in-flight outcome.
func Pending[T any]() Outcome[T] {
	return Outcome[T]{Status: StatusPending}
}

// Success wraps a value.
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{Status: StatusSuccess, Value: &v}
}

// Failure classifies err into a failed outcome.
func Failure[T any](err error) Outcome[T] {
	oe := Classify(err, "Something went wrong")
	return Outcome[T]{Status: StatusFailure, ErrorKind: oe.Kind, Message: oe.Message}
}

// From builds a Success from v when err is nil, otherwise a Failure.
func From[T any](v T, err error) Outcome[T] {
	if err != nil {
		return Failure[T](err)
	}
	return Success(v)
}

// IsPending reports whether the outcome is still in flight.
func (o Outcome[T]) IsPending() bool { return o.Status == StatusPending || o.Status == "" }

// IsSuccess reports whether the outcome holds a value.
func (o Outcome[T]) IsSuccess() bool { return o.Status == StatusSuccess }

// IsFailure reports whether the outcome is a classified failure.
func (o Outcome[T]) IsFailure() bool { return o.Status == StatusFailure }

// Err returns the failure as an *Error, or nil when the outcome is not a failure.
func (o Outcome[T]) Err() error {
	if !o.IsFailure() {
		return nil
	}
	return New(o.ErrorKind, o.Message)
}
