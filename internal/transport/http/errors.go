package http

import (
	"errors"
	"net/http"

	"live-activity-service/internal/domain"
)

type errorPayload struct {
	Kind      domain.Kind `json:"kind"`
	Code      domain.Code `json:"code,omitempty"`
	Message   string      `json:"message"`
	Reasons   []string    `json:"reasons,omitempty"`
	Retryable bool        `json:"retryable"`
}

func errorFrom(err error) errorPayload {
	var e *domain.Error
	if !errors.As(err, &e) {
		return errorPayload{Kind: domain.KindUnknown, Message: "internal error"}
	}
	return errorPayload{
		Kind:      e.Kind,
		Code:      e.Code,
		Message:   e.Error(),
		Reasons:   e.Reasons,
		Retryable: e.Retryable(),
	}
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidTransition, domain.KindConflict:
		return http.StatusConflict
	case domain.KindValidationFailed:
		return http.StatusUnprocessableEntity
	case domain.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(err error) error {
	return domain.ValidationError([]string{"invalid payload: " + err.Error()})
}
