package ledger

import "fmt"

// Kind tags an Error with the HTTP-status-relevant category the API layer
// needs, so handlers never have to string-match an error message.
type Kind string

const (
	KindBadRequest      Kind = "BadRequest"
	KindNotFound        Kind = "NotFound"
	KindInternal        Kind = "Internal"
	KindIngestionError  Kind = "IngestionError"
	KindBuilderLogsError Kind = "BuilderLogsError"
)

// Error is the one error type the core returns. Kind drives HTTP mapping;
// the wrapped Err preserves the original cause for logging.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// BadRequest builds a validation error. Used for invalid addresses,
// malformed time windows, and unknown leaderboard metrics.
func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Msg: msg}
}

// Internal builds an unexpected-failure error, wrapping the cause.
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: cause}
}

// Ingestion wraps an upstream or repository failure encountered while
// fetching and persisting raw events.
func Ingestion(msg string, cause error) *Error {
	return &Error{Kind: KindIngestionError, Msg: msg, Err: cause}
}

// BuilderLogs wraps a failure fetching or parsing one day of builder logs
// (Http, HttpStatus, Lz4, or Csv kinds are all folded into Msg since Auto
// mode only needs to know "it failed", not why, to decide to degrade).
func BuilderLogs(msg string, cause error) *Error {
	return &Error{Kind: KindBuilderLogsError, Msg: msg, Err: cause}
}
