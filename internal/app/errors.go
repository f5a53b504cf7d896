package app

import (
	"errors"
	"fmt"
	"net/http"

	"shipflow/api/internal/auth"
	"shipflow/api/internal/blobstore"
	"shipflow/api/internal/export"
	"shipflow/api/internal/ledger"
	"shipflow/api/internal/rbac"
	"shipflow/api/internal/workflow"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var workflowErr *workflow.Error
	if errors.As(err, &workflowErr) {
		return workflowStatus(workflowErr), workflowErr.Code(), workflowErr.Message, nil
	}
	switch {
	case errors.Is(err, rbac.ErrUnauthorized):
		return http.StatusForbidden, "UNAUTHORIZED", workflow.MsgNotAdministrator, nil
	case errors.Is(err, rbac.ErrUnknownRole), errors.Is(err, rbac.ErrInvalidActor):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, blobstore.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Document content not found", nil
	case errors.Is(err, blobstore.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "TOO_LARGE", "Document exceeds the upload limit", nil
	case errors.Is(err, ledger.ErrNoHistory), errors.Is(err, ledger.ErrUnknownRevision):
		return http.StatusNotFound, "NOT_FOUND", "Ledger revision not found", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'html', 'pdf' or 'docx'", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrRevokedToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func workflowStatus(err *workflow.Error) int {
	switch {
	case errors.Is(err, workflow.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrAlreadyExists), errors.Is(err, workflow.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrInvalidConfiguration):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
