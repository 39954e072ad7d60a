// Package apperr defines the error taxonomy shared by the tracking core.
package apperr

import (
	"errors"

	"github.com/rotisserie/eris"
)

var (
	// ErrNotFound signals a missing link, campaign or affiliate.
	ErrNotFound = eris.New("not found")
	// ErrCampaignNotFound is returned by commission calculation for unknown campaigns.
	ErrCampaignNotFound = eris.New("campaign not found")
	// ErrInvalidLink signals an unknown or expired tracking id.
	ErrInvalidLink = eris.New("invalid tracking link")
	// ErrDuplicateConversion rejects a second conversion with the same id.
	ErrDuplicateConversion = eris.New("duplicate conversion")
	// ErrInvalidCommissionConfig marks a commission rule that cannot be evaluated.
	ErrInvalidCommissionConfig = eris.New("invalid commission config")
	// ErrBrokerUnavailable means the event was parked in the retry queue.
	ErrBrokerUnavailable = eris.New("broker unavailable")
	// ErrFraudScoring wraps internal failures of the fraud detector.
	ErrFraudScoring = eris.New("fraud scoring failure")
	// ErrInvalidInput marks a malformed request payload.
	ErrInvalidInput = eris.New("invalid input")
	// ErrLookupTimeout is a retryable failure of an external lookup.
	ErrLookupTimeout = eris.New("lookup timed out")
)

// IsNotFound reports whether err is any of the not-found kinds.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCampaignNotFound)
}

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrLookupTimeout) || errors.Is(err, ErrBrokerUnavailable)
}
