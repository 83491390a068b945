package customer

import "errors"

var (
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrCustomerExists    = errors.New("customer with this email already exists")
	ErrMissingFields     = errors.New("missing required fields")
	ErrInvalidTransition = errors.New("invalid customer status transition")
	ErrInvalidCustomer   = errors.New("invalid customer")
)
