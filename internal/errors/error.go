package errors

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig    Category = "config"
	CategoryTransport Category = "transport"
	CategoryProtocol  Category = "protocol"
	CategoryCLI       Category = "cli"
)

// Location represents a position in a file, usually lugma.yaml.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// LugmaError is a structured CLI diagnostic with an optional file location
// and a hint.
type LugmaError struct {
	// Code is a unique error identifier (e.g., "L101").
	Code string

	// Category is the error type.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is where the error occurred, if it came from a file.
	Location *Location

	// Context contains the surrounding file lines.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Example shows the correct form.
	Example string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *LugmaError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *LugmaError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds a file location and reads the lines around it.
func (e *LugmaError) WithLocation(file string, line, column int) *LugmaError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	return e
}

var yamlLine = regexp.MustCompile(`line (\d+)`)

// WithLocationFromError extracts a line number from a YAML decode error
// ("yaml: line 3: ...") and points the error at file.
func (e *LugmaError) WithLocationFromError(file string, err error) *LugmaError {
	if err == nil {
		return e
	}
	m := yamlLine.FindStringSubmatch(err.Error())
	if m == nil {
		return e
	}
	line, convErr := strconv.Atoi(m[1])
	if convErr != nil || line <= 0 {
		return e
	}
	return e.WithLocation(file, line, 0)
}

// WithSuggestion adds a fix suggestion to the error.
func (e *LugmaError) WithSuggestion(s string) *LugmaError {
	e.Suggestion = s
	return e
}

// WithExample adds an example to the error.
func (e *LugmaError) WithExample(ex string) *LugmaError {
	e.Example = ex
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *LugmaError) WithDetail(d string) *LugmaError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *LugmaError) Wrap(err error) *LugmaError {
	e.Wrapped = err
	return e
}

func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}

	return lines
}

// New creates a LugmaError from a registered error code.
func New(code string) *LugmaError {
	template, ok := GetTemplate(code)
	if !ok {
		return &LugmaError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &LugmaError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new LugmaError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *LugmaError {
	return &LugmaError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps err in a LugmaError with code. An err that already is
// (or wraps) a LugmaError is returned as that error.
func FromError(err error, code string) *LugmaError {
	if err == nil {
		return nil
	}
	var le *LugmaError
	if stderrors.As(err, &le) {
		return le
	}
	return New(code).Wrap(err)
}
