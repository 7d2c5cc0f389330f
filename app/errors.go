package app

import "errors"

var (
	// ErrInvalidPayload means the webhook body was not well-formed JSON.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnknownSite means no customer is configured for the site id.
	ErrUnknownSite = errors.New("unknown site")

	// ErrMissingFields means the payload lacked a submission id or form id.
	ErrMissingFields = errors.New("missing required fields")

	// ErrExportNotFound means the export token is unknown or already consumed.
	ErrExportNotFound = errors.New("export not found")

	// ErrNotFound is returned for lookups of records that do not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the customer has no access to the requested form.
	ErrForbidden = errors.New("form not selected for customer")
)
