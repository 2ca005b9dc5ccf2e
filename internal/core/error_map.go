package core

import (
	"errors"
	"net/http"
	"strings"

	"github.com/hookbot/hookbot/internal/credential"
	"github.com/hookbot/hookbot/internal/github"
	"github.com/hookbot/hookbot/internal/media"
)

// ErrMissingInstallation rejects a webhook that carries no installation id.
var ErrMissingInstallation = errors.New("webhook payload has no installation id")

// CodedError is implemented by domain errors that carry a machine-readable
// code, such as *PolicyError.
type CodedError interface {
	error
	ErrorCode() string
}

type ErrorInfo struct {
	Code    string
	Message string
}

// MapError reduces an error to a stable code for logs, metrics and the
// audit trail. For joined errors the first recognizable cause wins.
func MapError(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{Code: "internal_error", Message: "internal error"}
	}
	msg := err.Error()

	var coded CodedError
	if errors.As(err, &coded) {
		return ErrorInfo{Code: coded.ErrorCode(), Message: msg}
	}

	var apiErr *github.APIError
	if errors.As(err, &apiErr) {
		switch {
		case github.IsRateLimited(apiErr):
			return ErrorInfo{Code: "github_rate_limited", Message: msg}
		case apiErr.StatusCode == http.StatusUnauthorized:
			return ErrorInfo{Code: "github_auth_failed", Message: msg}
		case apiErr.StatusCode == http.StatusForbidden:
			return ErrorInfo{Code: "github_permission_denied", Message: msg}
		case apiErr.StatusCode == http.StatusNotFound:
			return ErrorInfo{Code: "github_not_found", Message: msg}
		case apiErr.StatusCode == http.StatusUnprocessableEntity:
			return ErrorInfo{Code: "github_validation_failed", Message: msg}
		case apiErr.StatusCode >= 500:
			return ErrorInfo{Code: "github_unavailable", Message: msg}
		}
	}

	switch {
	case errors.Is(err, ErrMissingInstallation):
		return ErrorInfo{Code: "missing_installation", Message: msg}
	case errors.Is(err, credential.ErrNoAssertion):
		return ErrorInfo{Code: "credential_unavailable", Message: msg}
	case errors.Is(err, media.ErrNotFound):
		return ErrorInfo{Code: "media_not_found", Message: msg}
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "parse webhook payload"):
		return ErrorInfo{Code: "invalid_payload", Message: msg}
	case strings.Contains(lower, "app assertion"):
		return ErrorInfo{Code: "credential_unavailable", Message: msg}
	default:
		return ErrorInfo{Code: "internal_error", Message: msg}
	}
}
