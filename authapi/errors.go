package authapi

import (
	"errors"
	"fmt"
)

// Code classifies a client-observable failure of a wire call.
type Code string

const (
	// CodeNetwork covers transport failures: timeouts, refused connections.
	CodeNetwork Code = "network"

	// CodeServerError covers 5xx responses.
	CodeServerError Code = "server_error"

	// CodeMalformedResponse covers bodies that cannot be decoded.
	CodeMalformedResponse Code = "malformed_response"

	// CodeAccessDenied is the protocol rejection for refused consent.
	CodeAccessDenied Code = "access_denied"

	// CodeExpiredToken is the protocol rejection for a lapsed session.
	CodeExpiredToken Code = "expired_token"

	// CodeInvalidGrant is the terminal rejection of a refresh token.
	CodeInvalidGrant Code = "invalid_grant"

	// CodeProtocol covers well-formed rejections this client does not know.
	CodeProtocol Code = "protocol_error"
)

// Error is a classified wire-call failure.
type Error struct {
	Code        Code
	Description string
	HTTPStatus  int
	cause       error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Transient reports whether the failure may resolve on its own, so a poll
// cadence can simply continue.
func (e *Error) Transient() bool {
	return e.Code == CodeNetwork || e.Code == CodeServerError
}

// CodeOf extracts the classification from err, or CodeNetwork when err is
// not an *Error (plain transport failures).
func CodeOf(err error) Code {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeNetwork
}

// IsTransient reports whether err may resolve on its own.
func IsTransient(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	// Unclassified errors are treated as transient transport failures.
	return true
}

func networkError(op string, err error) *Error {
	return &Error{Code: CodeNetwork, Description: op, cause: err}
}

func malformedError(op string, status int, err error) *Error {
	return &Error{Code: CodeMalformedResponse, Description: op, HTTPStatus: status, cause: err}
}

func protocolError(code, description string, status int) *Error {
	e := &Error{Description: description, HTTPStatus: status}
	switch code {
	case "access_denied":
		e.Code = CodeAccessDenied
	case "expired_token":
		e.Code = CodeExpiredToken
	case "invalid_grant":
		e.Code = CodeInvalidGrant
	default:
		e.Code = CodeProtocol
		if description == "" {
			e.Description = code
		} else {
			e.Description = fmt.Sprintf("%s: %s", code, description)
		}
	}
	return e
}
