package track

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedProvider marks an identifier outside the closed
	// provider set.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrSignatureInvalid marks a payload that failed signature
	// verification.
	ErrSignatureInvalid = errors.New("invalid webhook signature")

	// ErrNotSuppressed marks a suppression removal for an address that
	// is not on the provider's suppression list.
	ErrNotSuppressed = errors.New("address not on suppression list")
)

// UnrecognizedEventError is returned when no event mapping rule matches
// a verified payload. The caller logs and drops the payload.
type UnrecognizedEventError struct {
	Provider string
}

func (e *UnrecognizedEventError) Error() string {
	return fmt.Sprintf("unrecognized %s event: no mapping rule matched", e.Provider)
}

// TransportError wraps a network or API failure talking to a provider.
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProvisioningStepError reports which resource step aborted a
// provisioning run.
type ProvisioningStepError struct {
	Step string
	Err  error
}

func (e *ProvisioningStepError) Error() string {
	return fmt.Sprintf("provisioning step %s failed: %v", e.Step, e.Err)
}

func (e *ProvisioningStepError) Unwrap() error { return e.Err }
