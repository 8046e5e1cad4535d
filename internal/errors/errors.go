// Package errors provides the unified error type for Chronicle's core engine.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies a Chronicle error kind. The set is closed and mirrors the
// failure modes enumerated across the provenance model, the transaction
// processors, and the submitter/projector.
type Code string

const (
	// Parse / serialization
	CodeInvalidIri         Code = "INVALID_IRI"
	CodeUnparseablePayload Code = "UNPARSEABLE_PAYLOAD"

	// Invariant violations (ProvModel.Apply)
	CodeNamespaceMissing     Code = "NAMESPACE_MISSING"
	CodeTimeOrdering         Code = "TIME_ORDERING"
	CodeInvariantViolation   Code = "INVARIANT_VIOLATION"
	CodeUnknownKind          Code = "UNKNOWN_KIND"
	CodeAttachmentSignerMiss Code = "ATTACHMENT_SIGNER_MISSING"

	// Authentication
	CodeBadSignature Code = "BAD_SIGNATURE"
	CodeUnknownKey   Code = "UNKNOWN_KEY"

	// Authorization
	CodePolicyDenied Code = "POLICY_DENIED"

	// Ledger transport (local-recover with bounded retry; surfaced after exhaustion)
	CodeBusy           Code = "BUSY"
	CodeTimeout        Code = "TIMEOUT"
	CodeConnectionLost Code = "CONNECTION_LOST"

	// Projection
	CodeOutOfOrderEvent  Code = "OUT_OF_ORDER_EVENT"
	CodeDuplicateEvent   Code = "DUPLICATE_EVENT"
	CodeDatabaseConflict Code = "DATABASE_CONFLICT"

	// Policy TP
	CodeAlreadyBootstrapped Code = "ALREADY_BOOTSTRAPPED"
	CodeBadRootSignature    Code = "BAD_ROOT_SIGNATURE"
	CodeBundleUnparseable   Code = "BUNDLE_UNPARSEABLE"
)

// ChronicleError is a structured error carrying a closed Code, a message, and
// optional details used to reconstruct the failure without parsing strings.
type ChronicleError struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *ChronicleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ChronicleError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair to the error for diagnostics.
func (e *ChronicleError) WithDetails(key string, value interface{}) *ChronicleError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ChronicleError with no underlying cause.
func New(code Code, message string) *ChronicleError {
	return &ChronicleError{Code: code, Message: message}
}

// Wrap creates a ChronicleError around an underlying cause.
func Wrap(code Code, message string, err error) *ChronicleError {
	return &ChronicleError{Code: code, Message: message, Err: err}
}

// Constructors for the failure modes named in spec.md §4.3, §4.5-§4.7.

func InvalidIri(iri, reason string) *ChronicleError {
	return New(CodeInvalidIri, "invalid IRI").
		WithDetails("iri", iri).
		WithDetails("reason", reason)
}

func NamespaceMissing(namespace string) *ChronicleError {
	return New(CodeNamespaceMissing, "namespace does not exist").WithDetails("namespace", namespace)
}

func TimeOrdering(started, ended string) *ChronicleError {
	return New(CodeTimeOrdering, "activity ended before it started").
		WithDetails("started", started).
		WithDetails("ended", ended)
}

func InvariantViolation(what string) *ChronicleError {
	return New(CodeInvariantViolation, what)
}

func UnknownKind(kind string) *ChronicleError {
	return New(CodeUnknownKind, "unknown operation or identifier kind").WithDetails("kind", kind)
}

func AttachmentSignerMissing(signature string) *ChronicleError {
	return New(CodeAttachmentSignerMiss, "attachment has no signer identity").WithDetails("signature", signature)
}

func BadSignature(err error) *ChronicleError {
	return Wrap(CodeBadSignature, "signature verification failed", err)
}

func UnknownKey(keyHex string) *ChronicleError {
	return New(CodeUnknownKey, "verifying key is not recognized").WithDetails("key", keyHex)
}

func PolicyDenied(reason string) *ChronicleError {
	return New(CodePolicyDenied, "policy engine denied transaction").WithDetails("reason", reason)
}

func Busy(resource string) *ChronicleError {
	return New(CodeBusy, "ledger backpressure").WithDetails("resource", resource)
}

func Timeout(operation string) *ChronicleError {
	return New(CodeTimeout, "operation timed out").WithDetails("operation", operation)
}

func ConnectionLost(err error) *ChronicleError {
	return Wrap(CodeConnectionLost, "ledger connection lost", err)
}

func OutOfOrderEvent(got, expected uint64) *ChronicleError {
	return New(CodeOutOfOrderEvent, "event arrived out of order").
		WithDetails("offset", got).
		WithDetails("expected", expected)
}

func DuplicateEvent(offset uint64) *ChronicleError {
	return New(CodeDuplicateEvent, "event already applied").WithDetails("offset", offset)
}

func DatabaseConflict(err error) *ChronicleError {
	return Wrap(CodeDatabaseConflict, "database transaction conflict", err)
}

func AlreadyBootstrapped() *ChronicleError {
	return New(CodeAlreadyBootstrapped, "root key already bootstrapped")
}

func BadRootSignature() *ChronicleError {
	return New(CodeBadRootSignature, "signature does not verify under the current root key")
}

func BundleUnparseable(err error) *ChronicleError {
	return Wrap(CodeBundleUnparseable, "policy bundle could not be parsed", err)
}

func UnparseablePayload(err error) *ChronicleError {
	return Wrap(CodeUnparseablePayload, "transaction payload could not be parsed", err)
}

// Retryable reports whether code is one of the ledger-transport codes
// spec.md §7 marks "L (local-recover) with bounded retry; surface after
// exhaustion" — every other code is a deterministic rejection that a retry
// can never turn into a success.
func (c Code) Retryable() bool {
	switch c {
	case CodeBusy, CodeTimeout, CodeConnectionLost:
		return true
	default:
		return false
	}
}

// Is reports whether err is a ChronicleError carrying the given code.
func Is(err error, code Code) bool {
	var ce *ChronicleError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// As extracts a *ChronicleError from an error chain.
func As(err error) (*ChronicleError, bool) {
	var ce *ChronicleError
	ok := errors.As(err, &ce)
	return ce, ok
}
