package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies a harvest failure by how far it is allowed to propagate.
type Kind string

const (
	KindConfiguration     Kind = "configuration"
	KindDirectoryConflict Kind = "directory_conflict"
	KindTransport         Kind = "transport"
	KindFilesystem        Kind = "filesystem"
	KindSourceDisabled    Kind = "source_disabled"
	KindCancelled         Kind = "cancelled"
	KindUnknown           Kind = "unknown"
)

// Error is the typed error carried through adapters, storage and the orchestrator.
// Source, Target and Item narrow the scope the failure applies to; any of them may be empty.
type Error struct {
	Kind    Kind
	Source  string
	Target  string
	Item    string
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")

	var scope []string
	if e.Source != "" {
		scope = append(scope, "source="+e.Source)
	}
	if e.Target != "" {
		scope = append(scope, "target="+e.Target)
	}
	if e.Item != "" {
		scope = append(scope, "item="+e.Item)
	}
	if e.Code != 0 {
		scope = append(scope, fmt.Sprintf("code=%d", e.Code))
	}
	if len(scope) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(scope, " "))
		b.WriteString("]")
	}

	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration reports missing or malformed settings. Fatal.
func Configuration(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...), Err: err}
}

// DirectoryConflict reports an export directory that already holds files. Fatal.
func DirectoryConflict(path string) *Error {
	return &Error{
		Kind:    KindDirectoryConflict,
		Message: fmt.Sprintf("export directory already exists and is not empty: %s", path),
	}
}

// Transport wraps a network failure that produced no HTTP status.
func Transport(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindTransport, Message: fmt.Sprintf(format, args...), Err: err}
}

// TransportStatus reports an unexpected HTTP status.
func TransportStatus(code int, url string) *Error {
	return &Error{
		Kind:    KindTransport,
		Code:    code,
		Message: fmt.Sprintf("unexpected status %d from %s", code, url),
	}
}

// Filesystem wraps a failed write, rename or directory operation.
func Filesystem(err error, path string) *Error {
	return &Error{Kind: KindFilesystem, Message: path, Err: err}
}

// SourceDisabled is the skip marker for a source switched off in configuration.
func SourceDisabled(source string) *Error {
	return &Error{Kind: KindSourceDisabled, Source: source, Message: "source disabled"}
}

// Cancelled wraps a context error so it keeps its place in the taxonomy.
func Cancelled(err error) *Error {
	return &Error{Kind: KindCancelled, Message: "harvest cancelled", Err: err}
}

// Scope returns err annotated with the given source, target and item. Fields already set
// on a typed error are kept; untyped errors are classified first.
func Scope(err error, source, target, item string) error {
	if err == nil {
		return nil
	}

	var e *Error
	if stderrors.As(err, &e) {
		scoped := *e
		if scoped.Source == "" {
			scoped.Source = source
		}
		if scoped.Target == "" {
			scoped.Target = target
		}
		if scoped.Item == "" {
			scoped.Item = item
		}
		return &scoped
	}

	return &Error{
		Kind:   classify(err),
		Source: source,
		Target: target,
		Item:   item,
		Err:    err,
	}
}

// KindOf returns the Kind of err, classifying plain errors on the fly.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindUnknown
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindDirectoryConflict:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a request that failed with err may be repeated.
func IsRetryable(err error) bool {
	var e *Error
	if !stderrors.As(err, &e) || e.Kind != KindTransport {
		return false
	}
	return IsRetryableStatusCode(e.Code)
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // no response at all
		return true
	case 429:
		return true
	case 401, 403, 404, 410:
		return false
	default:
		return statusCode >= 500
	}
}
