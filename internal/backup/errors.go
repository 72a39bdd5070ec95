package backup

import (
	"errors"
	"fmt"
)

// Kind classifies failures at the orchestration boundary.
type Kind string

const (
	KindFatalConfig       Kind = "fatal_config"
	KindFatalAuth         Kind = "fatal_auth"
	KindTargetFailed      Kind = "target_failed"
	KindDestinationFailed Kind = "destination_failed"
	KindReportFailed      Kind = "report_failed"
)

// Fatal reports whether a failure of this kind aborts the run.
func (k Kind) Fatal() bool {
	return k == KindFatalConfig || k == KindFatalAuth
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func IsFatal(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind.Fatal()
}

// UserMessage renders err for the person reading the CLI output.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch e.Kind {
	case KindFatalConfig:
		return fmt.Sprintf("Invalid configuration: %v", e.Err)
	case KindFatalAuth:
		return fmt.Sprintf("Validation failed: %v", e.Err)
	case KindTargetFailed:
		return fmt.Sprintf("Download failed for %s: %v", e.Op, e.Err)
	case KindDestinationFailed:
		return fmt.Sprintf("Sync failed for %s: %v", e.Op, e.Err)
	case KindReportFailed:
		return fmt.Sprintf("Report could not be saved: %v", e.Err)
	default:
		return fmt.Sprintf("Unexpected error: %v", e.Err)
	}
}
