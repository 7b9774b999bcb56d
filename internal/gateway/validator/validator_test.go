package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() CreateReportRequest {
	return CreateReportRequest{
		TraceID:    "3f2504e0-4f89-41d3-9a0c-0305e82c3301",
		Title:      "Quarterly revenue summary",
		Expression: "SUM(revenue) WHERE quarter = 'Q3' AND region = 'EMEA'",
	}
}

func fieldErrors(t *testing.T, err error) map[string][]string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
	return verr.Fields
}

func TestValidateAcceptsBoundaryLengths(t *testing.T) {
	for _, tc := range []struct {
		name       string
		title      string
		expression string
	}{
		{"minimums", strings.Repeat("t", 20), strings.Repeat("e", 30)},
		{"maximums", strings.Repeat("t", 30), strings.Repeat("e", 100)},
		{"multibyte counted as runes", strings.Repeat("ü", 25), strings.Repeat("ç", 40)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			req.Title = tc.title
			req.Expression = tc.expression
			assert.NoError(t, Validate(&req))
		})
	}
}

func TestValidateRejectsLengths(t *testing.T) {
	req := validRequest()
	req.Title = strings.Repeat("t", 19)
	req.Expression = strings.Repeat("e", 101)

	fields := fieldErrors(t, Validate(&req))
	assert.Equal(t, []string{"Title length must be between 20 and 30 characters."}, fields["Title"])
	assert.Equal(t, []string{"Expression length must be between 30 and 100 characters."}, fields["Expression"])
	assert.NotContains(t, fields, "TraceId")
}

func TestValidateRequiresFields(t *testing.T) {
	req := CreateReportRequest{}
	fields := fieldErrors(t, Validate(&req))

	assert.Equal(t, []string{"The TraceId field is required."}, fields["TraceId"])
	assert.Equal(t, []string{"The Title field is required."}, fields["Title"])
	assert.Equal(t, []string{"Expression must be filled."}, fields["Expression"])
}

func TestValidationErrorMessageIsSorted(t *testing.T) {
	err := &ValidationError{Fields: map[string][]string{
		"Title":      {"b"},
		"Expression": {"a"},
	}}
	assert.Equal(t, "Expression: a; Title: b", err.Error())
}

func TestValidateLeavesTraceIDFormatToCaller(t *testing.T) {
	req := validRequest()
	req.TraceID = "not-a-guid"
	assert.NoError(t, Validate(&req))
}
