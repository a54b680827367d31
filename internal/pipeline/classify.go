package pipeline

import (
	"errors"
	"fmt"

	"github.com/featurestream/featurestream/internal/apperr"
	"github.com/featurestream/featurestream/internal/stream"
)

// Stage tells the classifier whether the provider request had been issued
// when the failure happened.
type Stage int

const (
	StageBeforeRequest Stage = iota
	StageAfterRequest
)

const (
	genericUpstreamMessage = "request failed"
	collaboratorMessage    = "upstream service unavailable"
	invalidRowMessage      = "provider returned a feature that could not be encoded"
)

// RowError is a provider row the encoder could not render, such as a
// geometry with malformed coordinates.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("encode row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Classify maps a failure onto the error taxonomy. Errors that are already
// classified pass through unchanged.
//
// Before the provider request, a 4xx from a collaborator becomes badRequest
// with that status and anything else becomes upstream. After the request,
// every failure is upstream and carries requestURL.
func Classify(err error, stage Stage, requestURL string) *apperr.Error {
	if err == nil {
		return nil
	}
	if appErr, ok := apperr.As(err); ok {
		return appErr
	}

	var statusErr *apperr.StatusError
	if stage == StageBeforeRequest {
		if errors.As(err, &statusErr) && statusErr.ClientError() {
			message := statusErr.Detail
			if message == "" {
				message = err.Error()
			}
			return apperr.BadRequest(statusErr.StatusCode, message)
		}
		return apperr.Upstream(collaboratorMessage, "", err)
	}

	var providerErr *stream.ProviderError
	var rowErr *RowError
	switch {
	case errors.As(err, &providerErr):
		return apperr.Upstream(providerErr.Message, requestURL, err)
	case errors.As(err, &rowErr):
		return apperr.Upstream(invalidRowMessage, requestURL, err)
	case errors.As(err, &statusErr):
		message := statusErr.Detail
		if message == "" {
			message = fmt.Sprintf("provider responded with status %d", statusErr.StatusCode)
		}
		return apperr.Upstream(message, requestURL, err)
	default:
		return apperr.Upstream(genericUpstreamMessage, requestURL, err)
	}
}
