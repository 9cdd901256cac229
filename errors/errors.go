package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
)

var locationPrefix = regexp.MustCompile(`\[[^\]\s]+:\d+\] `)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(2), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(2), fmt.Sprintf(format, a...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Join returns an error that wraps the given errors.
func Join(errs ...error) error { return stderrors.Join(errs...) }

// Message renders err for end users, without the file:line prefixes.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var nf *NotFoundError
	if As(err, &nf) {
		return nf.Error()
	}
	return locationPrefix.ReplaceAllString(err.Error(), "")
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
