package provider

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is missing
	// required configuration
	ErrProviderNotConfigured = errors.New("payment provider not configured")

	// ErrInvalidSignature is returned when webhook signature validation
	// fails; a security failure, never retried
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrStaleTimestamp is returned when the signed timestamp falls outside
	// the replay tolerance window
	ErrStaleTimestamp = errors.New("webhook timestamp outside tolerance")

	// ErrMalformedPayload is returned when a webhook body or signature
	// header cannot be parsed
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrCustomerNotFound is returned when a customer cannot be found in the
	// provider's system
	ErrCustomerNotFound = errors.New("customer not found in payment provider")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("payment provider API error")
)
