package pipeline

import "errors"

// Kind classifies a stage failure. Exactly one kind is attached to any error
// that escapes a pipeline run.
type Kind string

const (
	KindNotFound      Kind = "NOT_FOUND"
	KindConfiguration Kind = "CONFIGURATION_ERROR"
	KindGeneration    Kind = "GENERATION_ERROR"
	KindSubmission    Kind = "SUBMISSION_ERROR"
	KindPoll          Kind = "POLL_ERROR"
	KindPersist       Kind = "PERSIST_ERROR"
	KindDownload      Kind = "DOWNLOAD_ERROR"
	KindUpload        Kind = "UPLOAD_ERROR"
)

// StageError attaches a Kind to an underlying error. Error() returns the
// underlying message unchanged so it can be surfaced verbatim on the event
// stream.
type StageError struct {
	Kind Kind
	Err  error
}

func (e *StageError) Error() string { return e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// WrapKind attaches kind to err unless err already carries a kind (a client
// may classify its own configuration failures before the orchestrator wraps
// the stage result).
func WrapKind(kind Kind, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Kind: kind, Err: err}
}

// KindOf returns the kind attached to err, or "" when it has none.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
