package stripe

import (
	"context"
	"errors"
	"fmt"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Client wraps the outbound Stripe calls made by the RPCs.
type Client struct {
	api *client.API
}

// NewClient creates a Stripe API client bound to secretKey.
func NewClient(secretKey string) *Client {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Client{api: api}
}

// PaymentIntentRequest describes a one-off charge. Amount is in minor units.
type PaymentIntentRequest struct {
	Amount   int64
	Currency string
	Metadata map[string]string
}

// PaymentIntent is the subset of the created intent returned to clients.
type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// CreatePaymentIntent creates a payment intent with automatic payment methods.
func (c *Client) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(req.Amount),
		Currency: stripego.String(req.Currency),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// CreateCustomer creates a gateway customer for accountID. The request is
// keyed by account so concurrent first checkouts resolve to one customer.
func (c *Client) CreateCustomer(ctx context.Context, accountID, email string) (string, error) {
	params := &stripego.CustomerParams{}
	if email != "" {
		params.Email = stripego.String(email)
	}
	params.Context = ctx
	params.AddMetadata(MetadataAccountID, accountID)
	params.SetIdempotencyKey("customer-" + accountID)

	cus, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cus.ID, nil
}

// CheckoutSessionRequest describes a subscription-mode checkout.
type CheckoutSessionRequest struct {
	CustomerID string
	AccountID  string
	PriceID    string
	TrialDays  int
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CreateCheckoutSession creates a subscription checkout and returns its URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (string, error) {
	params := &stripego.CheckoutSessionParams{
		Mode:              stripego.String(string(stripego.CheckoutSessionModeSubscription)),
		Customer:          stripego.String(req.CustomerID),
		ClientReferenceID: stripego.String(req.AccountID),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{
				Price:    stripego.String(req.PriceID),
				Quantity: stripego.Int64(1),
			},
		},
		SuccessURL: stripego.String(req.SuccessURL),
		CancelURL:  stripego.String(req.CancelURL),
		SubscriptionData: &stripego.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripego.Int64(int64(req.TrialDays))
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if sess.URL == "" {
		return "", errors.New("create checkout session: missing session URL in response")
	}
	return sess.URL, nil
}

// CreatePortalSession opens a billing portal session for customerID.
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripego.BillingPortalSessionParams{
		Customer: stripego.String(customerID),
	}
	if returnURL != "" {
		params.ReturnURL = stripego.String(returnURL)
	}
	params.Context = ctx

	sess, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}
