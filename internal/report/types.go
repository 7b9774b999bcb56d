// Package report defines the identifiers, status codes and the uniform
// BusinessResponse envelope shared by every stage of the report pipeline.
package report

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
)

// StatusCode is the closed set of outcomes a pipeline operation resolves to.
type StatusCode int

const (
	Success           StatusCode = 1
	ReportReady       StatusCode = 200
	DocumentSaved     StatusCode = 205
	InvalidExpression StatusCode = 400
	ValidationErrors  StatusCode = 401
	Fail              StatusCode = 500
)

func (s StatusCode) String() string {
	switch s {
	case Success:
		return "Success"
	case ReportReady:
		return "ReportReady"
	case DocumentSaved:
		return "DocumentSaved"
	case InvalidExpression:
		return "InvalidExpression"
	case ValidationErrors:
		return "ValidationErrors"
	case Fail:
		return "Fail"
	default:
		return "Unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Succeeded reports whether s is one of the non-failure outcomes.
func (s StatusCode) Succeeded() bool {
	switch s {
	case Success, ReportReady, DocumentSaved:
		return true
	default:
		return false
	}
}

// BusinessResponse is returned synchronously by every stage-local operation.
// Err carries the classified cause of a failure for the dispatcher; it is
// never serialised.
type BusinessResponse struct {
	StatusCode StatusCode `json:"status_code"`
	Message    string     `json:"message"`
	Err        error      `json:"-"`
}

// OK builds a successful response.
func OK(code StatusCode, format string, args ...any) BusinessResponse {
	return BusinessResponse{StatusCode: code, Message: fmt.Sprintf(format, args...)}
}

// Failed builds a response for err with the given user-facing message. The
// status code is derived from the error's class.
func Failed(err error, message string) BusinessResponse {
	return BusinessResponse{StatusCode: StatusFor(err), Message: message, Err: err}
}

// StatusFor maps a classified error onto the StatusCode enumeration.
func StatusFor(err error) StatusCode {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, apperrors.ErrInvalidInput):
		return ValidationErrors
	default:
		return Fail
	}
}

const (
	headMin   = 1000
	headMax   = 1100
	sourceMin = 1
	sourceMax = 10
)

// ReferenceDocumentId namespaces a report request by origin shard (Head,
// Source) and makes it globally unique through Stamp.
type ReferenceDocumentId struct {
	Head   int
	Source int
	Stamp  uuid.UUID
}

// NewReferenceDocumentId mints a fresh identifier with Head in [1000,1100)
// and Source in [1,10).
func NewReferenceDocumentId() (ReferenceDocumentId, error) {
	head, err := randomInRange(headMin, headMax)
	if err != nil {
		return ReferenceDocumentId{}, err
	}
	source, err := randomInRange(sourceMin, sourceMax)
	if err != nil {
		return ReferenceDocumentId{}, err
	}
	stamp, err := uuid.NewRandom()
	if err != nil {
		return ReferenceDocumentId{}, fmt.Errorf("generating stamp: %w", err)
	}
	return ReferenceDocumentId{Head: head, Source: source, Stamp: stamp}, nil
}

func (r ReferenceDocumentId) String() string {
	return fmt.Sprintf("%d-%d-%s", r.Head, r.Source, r.Stamp)
}

// ParseReferenceDocumentId is the inverse of String.
func ParseReferenceDocumentId(s string) (ReferenceDocumentId, error) {
	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 {
		return ReferenceDocumentId{}, apperrors.Newf(apperrors.ErrInvalidInput, 400, "malformed document id %q", s)
	}
	head, err := strconv.Atoi(parts[0])
	if err != nil || head < headMin || head >= headMax {
		return ReferenceDocumentId{}, apperrors.Newf(apperrors.ErrInvalidInput, 400, "document id head out of range in %q", s)
	}
	source, err := strconv.Atoi(parts[1])
	if err != nil || source < sourceMin || source >= sourceMax {
		return ReferenceDocumentId{}, apperrors.Newf(apperrors.ErrInvalidInput, 400, "document id source out of range in %q", s)
	}
	stamp, err := uuid.Parse(parts[2])
	if err != nil {
		return ReferenceDocumentId{}, apperrors.Newf(apperrors.ErrInvalidInput, 400, "document id stamp is not a uuid in %q", s)
	}
	return ReferenceDocumentId{Head: head, Source: source, Stamp: stamp}, nil
}

// MsgInvalidTraceID is the client-facing message for a malformed TraceId.
const MsgInvalidTraceID = "TraceId must be a valid GUID."

// ValidateTraceID checks that traceID is a UUID in any of the textual forms
// uuid.Parse accepts.
func ValidateTraceID(traceID string) error {
	if traceID == "" {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "trace id is required")
	}
	if _, err := uuid.Parse(traceID); err != nil {
		return apperrors.New(apperrors.ErrInvalidInput, 400, MsgInvalidTraceID)
	}
	return nil
}

func randomInRange(lo, hi int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo)))
	if err != nil {
		return 0, fmt.Errorf("drawing random value: %w", err)
	}
	return lo + int(n.Int64()), nil
}
