package oauth

import (
	"errors"

	"whatsapp-provider/internal/models"
)

var (
	ErrMissingParameters   = errors.New("Missing required OAuth parameters")
	ErrInvalidResponseType = errors.New("Invalid response_type. Must be 'code'")
	ErrUnknownClient       = errors.New(models.ErrMsgCustomerNotFound)
	ErrInvalidRedirectURI  = errors.New("Invalid redirect_uri")
	ErrInvalidToken        = errors.New(models.ErrMsgInvalidToken)
	ErrCustomerInactive    = errors.New("Customer account is not active")
)

// Error is an RFC 6749 error response body.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func invalidClient() *Error {
	return &Error{Code: "invalid_client", Description: models.ErrMsgOAuthFailed}
}

func invalidRequest(desc string) *Error {
	return &Error{Code: "invalid_request", Description: desc}
}

func invalidGrant(desc string) *Error {
	return &Error{Code: "invalid_grant", Description: desc}
}
