// Package validator checks report requests at ingress. Field errors are
// collected per field so the gateway can answer with one problem document.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	minTitleLength      = 20
	maxTitleLength      = 30
	minExpressionLength = 30
	maxExpressionLength = 100
)

// CreateReportRequest is the ingress payload.
type CreateReportRequest struct {
	TraceID    string `json:"TraceId"`
	Title      string `json:"Title"`
	Expression string `json:"Expression"`
}

// ValidationError maps each failing field to its messages.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(e.Fields[name], ", ")))
	}
	return strings.Join(parts, "; ")
}

// Validate checks presence and length of every field. TraceId format is
// checked separately by the caller because it has its own response shape.
func Validate(req *CreateReportRequest) error {
	errs := make(map[string][]string)

	if req.TraceID == "" {
		errs["TraceId"] = append(errs["TraceId"], "The TraceId field is required.")
	}

	if req.Title == "" {
		errs["Title"] = append(errs["Title"], "The Title field is required.")
	} else if n := utf8.RuneCountInString(req.Title); n < minTitleLength || n > maxTitleLength {
		errs["Title"] = append(errs["Title"], fmt.Sprintf(
			"Title length must be between %d and %d characters.", minTitleLength, maxTitleLength))
	}

	if req.Expression == "" {
		errs["Expression"] = append(errs["Expression"], "Expression must be filled.")
	} else if n := utf8.RuneCountInString(req.Expression); n < minExpressionLength || n > maxExpressionLength {
		errs["Expression"] = append(errs["Expression"], fmt.Sprintf(
			"Expression length must be between %d and %d characters.", minExpressionLength, maxExpressionLength))
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
