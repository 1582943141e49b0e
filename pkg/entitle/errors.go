package entitle

import "errors"

var (
	// ErrInvalidTier is returned for unknown tier names
	ErrInvalidTier = errors.New("invalid tier")

	// ErrInvalidEvent is returned when an inbound event is missing required fields
	ErrInvalidEvent = errors.New("invalid event")

	// ErrCustomerNotFound is returned when a customer does not exist in the record store
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrRecordNotFound is returned when a subscription record does not exist
	ErrRecordNotFound = errors.New("subscription record not found")

	// ErrAlreadyExists is returned when creating an entity that already exists
	ErrAlreadyExists = errors.New("record already exists")

	// ErrVersionConflict is returned by CompareAndSwap when the expected
	// version is stale; callers reload and recompute rather than overwrite
	ErrVersionConflict = errors.New("version conflict")

	// ErrTransientProvision marks provisioning failures worth retrying
	ErrTransientProvision = errors.New("transient provisioning failure")

	// ErrPermanentProvision marks provisioning failures that retrying cannot fix
	ErrPermanentProvision = errors.New("permanent provisioning failure")

	// ErrConflictRetriesExhausted is returned when the commit loop loses the
	// version race more times than the configured attempt budget
	ErrConflictRetriesExhausted = errors.New("version conflict retries exhausted")

	// ErrProvisionTimeout is returned when provisioning does not complete
	// within the configured bound
	ErrProvisionTimeout = errors.New("provisioning timed out")

	// ErrStorageUnavailable is returned when the backing store cannot be reached
	ErrStorageUnavailable = errors.New("storage unavailable")
)
