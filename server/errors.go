package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jotlabs/memochat/chat/apperr"
)

// errorPayload is the uniform error body. Retryable tells the client whether
// re-issuing the same request can succeed.
type errorPayload struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

func writeError(c echo.Context, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return c.JSON(appErr.Kind.HTTPStatus(), errorPayload{
			Error:     appErr.Message,
			Kind:      appErr.Kind.String(),
			Retryable: appErr.Retryable(),
		})
	}
	return c.JSON(http.StatusInternalServerError, errorPayload{Error: err.Error(), Kind: "unknown"})
}
