package server

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/folionet/foliod/coordinator"
	"github.com/folionet/foliod/taskmanager"
)

// HandlerError is an error returned from an HTTP handler together with the
// status code to send.
type HandlerError struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"error"`
}

func (hErr *HandlerError) Error() string {
	return hErr.ErrorMessage
}

// NewHandlerError returns a HandlerError with the given code and message.
func NewHandlerError(code int, message string) *HandlerError {
	return &HandlerError{
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// NewInternalServerHandlerError returns a HandlerError of the generic 500
// form.
func NewInternalServerHandlerError(message string) *HandlerError {
	return NewHandlerError(http.StatusInternalServerError, message)
}

// convertError maps the domain error kinds onto HTTP status codes: invalid
// user input is 422, an all-providers failure is 502, anything else
// (database errors included) is a 500.
func convertError(err error) *HandlerError {
	var userInputErr *taskmanager.UserInputError
	if errors.As(err, &userInputErr) {
		return NewHandlerError(http.StatusUnprocessableEntity, userInputErr.Error())
	}
	var remoteErr *coordinator.RemoteError
	if errors.As(err, &remoteErr) {
		return NewHandlerError(http.StatusBadGateway, remoteErr.Error())
	}
	log.Errorf("Internal server error: %+v", err)
	return NewInternalServerHandlerError("Internal server error occurred")
}
