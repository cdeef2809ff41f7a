// Package skillerr defines the error kinds surfaced by skill resolution and
// synchronization. Kinds are string codes so they read well in logs and in
// the JSON report.
package skillerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind string

const (
	// KindMalformedLocator means the URL is unparseable or structurally invalid.
	KindMalformedLocator Kind = "MALFORMED_LOCATOR"

	// KindReferenceNotFound means no (ref, path) partition validated, or a ref
	// that validated earlier no longer resolves.
	KindReferenceNotFound Kind = "REFERENCE_NOT_FOUND"

	// KindTransport means the hosting API could not be reached or answered
	// with an unexpected status.
	KindTransport Kind = "TRANSPORT_ERROR"

	// KindNameConflict means the install target name is bound to another source.
	KindNameConflict Kind = "NAME_CONFLICT"

	// KindNotFound means the named skill is absent from the registry.
	KindNotFound Kind = "NOT_FOUND"

	// KindLocalEdits means the local copy differs from its recorded
	// fingerprint and the caller did not confirm an overwrite.
	KindLocalEdits Kind = "LOCAL_EDITS_DETECTED"

	// KindInvalidSkill means a fetched directory is not a skill (no SKILL.md).
	KindInvalidSkill Kind = "INVALID_SKILL"

	// KindRegistry means the registry file or its lock could not be used.
	KindRegistry Kind = "REGISTRY_ERROR"
)

// Sentinels for errors.Is matching. Only the kind is compared.
var (
	ErrMalformedLocator  = &Error{Kind: KindMalformedLocator}
	ErrReferenceNotFound = &Error{Kind: KindReferenceNotFound}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrNameConflict      = &Error{Kind: KindNameConflict}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrLocalEdits        = &Error{Kind: KindLocalEdits}
	ErrInvalidSkill      = &Error{Kind: KindInvalidSkill}
	ErrRegistry          = &Error{Kind: KindRegistry}
)

// Error is a classified error with an optional underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	// Attempts lists the (ref, path) partitions probed before a
	// REFERENCE_NOT_FOUND was reported.
	Attempts []string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " ")))
	}
	if len(e.Attempts) > 0 {
		b.WriteString(" (tried: ")
		b.WriteString(strings.Join(e.Attempts, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
