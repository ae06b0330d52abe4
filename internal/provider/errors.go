package provider

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a vendor that cannot be used because it is not
// configured, typically a missing API key.
type ConfigurationError struct {
	Vendor ID
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: not configured: %s", e.Vendor, e.Reason)
}

// ProviderError is an error envelope returned by the vendor itself.
type ProviderError struct {
	Vendor      ID
	Symbol      string
	Code        int
	Message     string
	RateLimited bool
}

func (e *ProviderError) Error() string {
	var kind string
	switch {
	case e.RateLimited:
		kind = "rate limited"
	case e.Code != 0:
		kind = fmt.Sprintf("code %d", e.Code)
	default:
		kind = "error"
	}
	if e.Symbol != "" {
		return fmt.Sprintf("%s: %s for %s: %s", e.Vendor, kind, e.Symbol, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Vendor, kind, e.Message)
}

// DataUnavailableError reports an empty or malformed payload.
type DataUnavailableError struct {
	Vendor ID
	Symbol string
	Reason string
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("%s: no data for %s: %s", e.Vendor, e.Symbol, e.Reason)
}

// TransportError is a request-level failure (dial, timeout, unexpected status).
type TransportError struct {
	Vendor ID
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s: unexpected status %d", e.Vendor, e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %s: %v", e.Vendor, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a vendor rate-limit notice.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.RateLimited
}

// NotConfigured is a convenience constructor for a missing API key.
func NotConfigured(vendor ID) error {
	return &ConfigurationError{Vendor: vendor, Reason: "missing API key"}
}
