package stripe

import (
	"fmt"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
)

// Verifier authenticates webhook deliveries with the endpoint signing secret.
type Verifier struct {
	secret string
}

// NewVerifier returns a Verifier for secret. An empty secret is allowed so the
// server can start; every Verify call then fails with ErrMissingConfiguration.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks sigHeader against the raw, unparsed payload and decodes the
// event. Bytes must be passed exactly as received.
func (v *Verifier) Verify(payload []byte, sigHeader string) (Event, error) {
	if v == nil || v.secret == "" {
		return nil, fmt.Errorf("stripe: webhook secret: %w", models.ErrMissingConfiguration)
	}

	evt, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSignature, err)
	}

	return Parse(evt)
}
