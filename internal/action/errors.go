package action

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies parse failures. None of them are retriable without the
// producer fixing the document.
type Kind int

const (
	KindMalformedDocument Kind = iota + 1
	KindUnsupportedAction
	KindUnsupportedVersion
)

var (
	ErrMalformedDocument  = errors.New("malformed action document")
	ErrUnsupportedAction  = errors.New("unsupported action")
	ErrUnsupportedVersion = errors.New("unsupported document version")
)

func (k Kind) String() string {
	switch k {
	case KindMalformedDocument:
		return "malformed_document"
	case KindUnsupportedAction:
		return "unsupported_action"
	case KindUnsupportedVersion:
		return "unsupported_version"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindMalformedDocument:
		return ErrMalformedDocument
	case KindUnsupportedAction:
		return ErrUnsupportedAction
	case KindUnsupportedVersion:
		return ErrUnsupportedVersion
	default:
		return nil
	}
}

// ParseError reports why a document could not be turned into an Action.
// Path locates the offending element or attribute, e.g.
// "TeamMate/Action/WorkItem/Fields/Field[2]@Name".
type ParseError struct {
	Kind    Kind
	Source  string
	Path    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	var sb strings.Builder
	if s := e.Kind.sentinel(); s != nil {
		sb.WriteString(s.Error())
	} else {
		sb.WriteString(e.Kind.String())
	}
	if e.Source != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Source)
	}
	if e.Path != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Path)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause, so
// errors.Is(err, ErrMalformedDocument) works alongside errors.As on the cause.
func (e *ParseError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the parse error kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

func malformed(source, path string, cause error, format string, args ...any) *ParseError {
	return &ParseError{Kind: KindMalformedDocument, Source: source, Path: path, Message: fmt.Sprintf(format, args...), Err: cause}
}

func unsupported(source, path string, format string, args ...any) *ParseError {
	return &ParseError{Kind: KindUnsupportedAction, Source: source, Path: path, Message: fmt.Sprintf(format, args...)}
}
