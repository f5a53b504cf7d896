package workflow

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrStateConflict        = errors.New("state conflict")
)

// Specific reasons. Each belongs to exactly one kind.
var (
	ErrStageOutOfRange     = errors.New("stage out of range")
	ErrUnknownDocument     = errors.New("unknown document")
	ErrShipmentFinalized   = errors.New("shipment finalized")
	ErrStageNotActive      = errors.New("stage not active")
	ErrDocumentsIncomplete = errors.New("documents incomplete")
	ErrAlreadyApproved     = errors.New("already approved")
)

// Messages surfaced to callers verbatim.
const (
	MsgNotInfoProvider     = "Not assigned as an info provider"
	MsgNotSigner           = "Not assigned as a signer"
	MsgDocumentsIncomplete = "All required documents must be uploaded before approval"
	MsgAlreadyApproved     = "Already approved this stage"
	MsgShipmentFinalized   = "Shipment is finalized"
	MsgShipmentDelivered   = "Shipment already delivered"
	MsgNotAdministrator    = "Caller is not an administrator"
	MsgStageNotActive      = "Only the current stage can be approved"
	MsgConcurrentUpdate    = "Shipment was modified concurrently"
)

// Error is the typed failure returned by every Engine operation. errors.Is
// matches both the kind and the reason.
type Error struct {
	Kind    error
	Reason  error
	Message string
}

func NewError(kind, reason error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Reason != nil {
		return []error{e.Kind, e.Reason}
	}
	return []error{e.Kind}
}

var codes = map[error]string{
	ErrStageOutOfRange:      "STAGE_OUT_OF_RANGE",
	ErrUnknownDocument:      "UNKNOWN_DOCUMENT",
	ErrShipmentFinalized:    "SHIPMENT_FINALIZED",
	ErrStageNotActive:       "STAGE_NOT_ACTIVE",
	ErrDocumentsIncomplete:  "DOCUMENTS_INCOMPLETE",
	ErrAlreadyApproved:      "ALREADY_APPROVED",
	ErrUnauthorized:         "UNAUTHORIZED",
	ErrNotFound:             "NOT_FOUND",
	ErrAlreadyExists:        "ALREADY_EXISTS",
	ErrInvalidConfiguration: "INVALID_CONFIGURATION",
	ErrStateConflict:        "STATE_CONFLICT",
}

// Code is a stable machine-readable identifier, the reason's if present.
func (e *Error) Code() string {
	if e == nil {
		return ""
	}
	if code, ok := codes[e.Reason]; ok {
		return code
	}
	if code, ok := codes[e.Kind]; ok {
		return code
	}
	return "ERROR"
}

func unauthorized(message string) *Error {
	return NewError(ErrUnauthorized, nil, "%s", message)
}

func invalidConfiguration(format string, args ...any) *Error {
	return NewError(ErrInvalidConfiguration, nil, format, args...)
}

func shipmentNotFound(id string) *Error {
	return NewError(ErrNotFound, nil, "shipment %s not found", id)
}

func stageOutOfRange(index, count int) *Error {
	return NewError(ErrNotFound, ErrStageOutOfRange, "stage %d does not exist (shipment has %d stages)", index, count)
}

// ShipmentNotFound is returned by Repository implementations for unknown ids.
func ShipmentNotFound(id string) error {
	return shipmentNotFound(id)
}

// ShipmentExists is returned by Repository.Create for duplicate ids.
func ShipmentExists(id string) error {
	return NewError(ErrAlreadyExists, nil, "shipment %s already exists", id)
}

// ConcurrentUpdate is returned by repositories that detect a lost race.
func ConcurrentUpdate(id string) error {
	return NewError(ErrStateConflict, nil, "%s: %s", MsgConcurrentUpdate, id)
}
