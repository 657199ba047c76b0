package vault

import "fmt"

// DeserializationError reports an inbound payload that is null or structurally
// invalid. It is fatal for the invocation and never retried locally.
type DeserializationError struct {
	Reason string
	Err    error
}

func (e *DeserializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deserialize event: %s: %v", e.Reason, e.Err)
	}
	return "deserialize event: " + e.Reason
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// PredictionServiceError reports that no usable prediction was obtained, either
// because every attempt failed or because a 2xx body was malformed. Err is the
// last underlying cause.
type PredictionServiceError struct {
	Attempts  int
	Malformed bool
	Err       error
}

func (e *PredictionServiceError) Error() string {
	if e.Malformed {
		return fmt.Sprintf("prediction service: malformed response: %v", e.Err)
	}
	return fmt.Sprintf("prediction service: failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *PredictionServiceError) Unwrap() error { return e.Err }

// StorageError reports a failed metrics write.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
