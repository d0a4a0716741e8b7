package billing

import (
	"errors"
	"fmt"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = fmt.Errorf("%w: invalid webhook signature", upgrade.ErrAuthentication)

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = fmt.Errorf("%w: invalid webhook payload", upgrade.ErrValidation)

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = fmt.Errorf("%w: billing provider API error", upgrade.ErrProviderUnavailable)
)
