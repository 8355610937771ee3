package stripe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
)

const testSecret = "whsec_test_secret"

func signedPayload(t *testing.T, payload string) (body []byte, header string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func eventJSON(id, typ, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":1700000000,"api_version":"2020-08-27","data":{"object":%s}}`, id, typ, object)
}

func TestVerifyPaymentIntentSucceeded(t *testing.T) {
	body, header := signedPayload(t, eventJSON("evt_1", "payment_intent.succeeded",
		`{"id":"pi_1","object":"payment_intent","metadata":{"bookingId":"b1","userId":"u1","trainerId":"t1","duration":"60"}}`))

	evt, err := NewVerifier(testSecret).Verify(body, header)
	require.NoError(t, err)

	got, ok := evt.(PaymentIntentSucceeded)
	require.True(t, ok, "expected PaymentIntentSucceeded, got %T", evt)
	assert.Equal(t, "evt_1", got.Meta().ID)
	assert.Equal(t, "pi_1", got.PaymentIntentID)
	assert.Equal(t, "b1", got.BookingID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got.PaidAt)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	body, header := signedPayload(t, eventJSON("evt_1", "payment_intent.succeeded", `{"id":"pi_1"}`))

	_, err := NewVerifier("whsec_other").Verify(body, header)
	require.ErrorIs(t, err, models.ErrInvalidSignature)
}

func TestVerifyRejectsModifiedBody(t *testing.T) {
	body, header := signedPayload(t, eventJSON("evt_1", "payment_intent.succeeded", `{"id":"pi_1"}`))
	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] = ' '

	_, err := NewVerifier(testSecret).Verify(tampered, header)
	require.ErrorIs(t, err, models.ErrInvalidSignature)
}

func TestVerifyWithoutSecret(t *testing.T) {
	body, header := signedPayload(t, eventJSON("evt_1", "payment_intent.succeeded", `{"id":"pi_1"}`))

	_, err := NewVerifier("").Verify(body, header)
	require.ErrorIs(t, err, models.ErrMissingConfiguration)
}

func TestParseVariants(t *testing.T) {
	cases := []struct {
		name   string
		typ    string
		object string
		check  func(t *testing.T, evt Event)
	}{
		{
			name:   "payment failed",
			typ:    "payment_intent.payment_failed",
			object: `{"id":"pi_2","metadata":{"bookingId":"b2"},"last_payment_error":{"message":"card declined"}}`,
			check: func(t *testing.T, evt Event) {
				got := evt.(PaymentIntentFailed)
				assert.Equal(t, "b2", got.BookingID)
				assert.Equal(t, "card declined", got.Reason)
			},
		},
		{
			name:   "subscription checkout",
			typ:    "checkout.session.completed",
			object: `{"id":"cs_1","mode":"subscription","client_reference_id":"u1","customer":"cus_1","subscription":"sub_1","metadata":{"period":"3-month"}}`,
			check: func(t *testing.T, evt Event) {
				got := evt.(CheckoutSessionCompleted)
				assert.Equal(t, "u1", got.AccountID)
				assert.Equal(t, "cus_1", got.CustomerID)
				assert.Equal(t, "sub_1", got.SubscriptionID)
				assert.Equal(t, models.PeriodThreeMonths, got.Period)
			},
		},
		{
			name:   "payment checkout is ignored",
			typ:    "checkout.session.completed",
			object: `{"id":"cs_2","mode":"payment"}`,
			check: func(t *testing.T, evt Event) {
				assert.IsType(t, Ignored{}, evt)
			},
		},
		{
			name:   "subscription updated reads item period end",
			typ:    "customer.subscription.updated",
			object: `{"id":"sub_1","customer":{"id":"cus_1"},"status":"past_due","metadata":{"account_id":"u1","period":"monthly"},"items":{"data":[{"current_period_end":1700003600}]}}`,
			check: func(t *testing.T, evt Event) {
				got := evt.(SubscriptionUpdated)
				assert.Equal(t, "cus_1", got.Subscription.CustomerID)
				assert.Equal(t, "u1", got.Subscription.AccountID)
				assert.Equal(t, "past_due", got.Subscription.Status)
				assert.Equal(t, models.PeriodMonthly, got.Subscription.Period)
				require.NotNil(t, got.Subscription.CurrentPeriodEnd)
				assert.Equal(t, int64(1700003600), got.Subscription.CurrentPeriodEnd.Unix())
			},
		},
		{
			name:   "subscription created carries the trial",
			typ:    "customer.subscription.created",
			object: `{"id":"sub_2","customer":"cus_2","status":"trialing","current_period_end":1700604800}`,
			check: func(t *testing.T, evt Event) {
				got := evt.(SubscriptionUpdated)
				assert.Equal(t, "sub_2", got.Subscription.ID)
				assert.Equal(t, "trialing", got.Subscription.Status)
				require.NotNil(t, got.Subscription.CurrentPeriodEnd)
			},
		},
		{
			name:   "subscription deleted",
			typ:    "customer.subscription.deleted",
			object: `{"id":"sub_1","customer":"cus_1","status":"canceled","current_period_end":1700000100}`,
			check: func(t *testing.T, evt Event) {
				got := evt.(SubscriptionDeleted)
				assert.Equal(t, "sub_1", got.Subscription.ID)
				require.NotNil(t, got.Subscription.CurrentPeriodEnd)
			},
		},
		{
			name:   "invoice with parent subscription",
			typ:    "invoice.payment_failed",
			object: `{"id":"in_1","customer":"cus_1","parent":{"subscription_details":{"subscription":"sub_9"}}}`,
			check: func(t *testing.T, evt Event) {
				got := evt.(InvoicePaymentFailed)
				assert.Equal(t, "sub_9", got.SubscriptionID)
			},
		},
		{
			name:   "invoice without subscription is ignored",
			typ:    "invoice.payment_failed",
			object: `{"id":"in_2","customer":"cus_1","subscription":null}`,
			check: func(t *testing.T, evt Event) {
				assert.IsType(t, Ignored{}, evt)
			},
		},
		{
			name:   "intent without booking is ignored",
			typ:    "payment_intent.succeeded",
			object: `{"id":"pi_3","metadata":{}}`,
			check: func(t *testing.T, evt Event) {
				assert.IsType(t, Ignored{}, evt)
			},
		},
		{
			name:   "unknown type",
			typ:    "customer.created",
			object: `{"id":"cus_1"}`,
			check: func(t *testing.T, evt Event) {
				got := evt.(Ignored)
				assert.Equal(t, "customer.created", got.Meta().Type)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, header := signedPayload(t, eventJSON("evt_x", tc.typ, tc.object))
			evt, err := NewVerifier(testSecret).Verify(body, header)
			require.NoError(t, err)
			tc.check(t, evt)
		})
	}
}

func TestParseMalformedObject(t *testing.T) {
	body, header := signedPayload(t, eventJSON("evt_bad", "payment_intent.succeeded", `{"id":42}`))

	_, err := NewVerifier(testSecret).Verify(body, header)
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

type recordingHandler struct {
	called string
}

func (r *recordingHandler) HandlePaymentIntentSucceeded(context.Context, PaymentIntentSucceeded) error {
	r.called = "succeeded"
	return nil
}
func (r *recordingHandler) HandlePaymentIntentFailed(context.Context, PaymentIntentFailed) error {
	r.called = "failed"
	return nil
}
func (r *recordingHandler) HandleCheckoutSessionCompleted(context.Context, CheckoutSessionCompleted) error {
	r.called = "checkout"
	return nil
}
func (r *recordingHandler) HandleSubscriptionUpdated(context.Context, SubscriptionUpdated) error {
	r.called = "updated"
	return nil
}
func (r *recordingHandler) HandleSubscriptionDeleted(context.Context, SubscriptionDeleted) error {
	r.called = "deleted"
	return nil
}
func (r *recordingHandler) HandleInvoicePaymentFailed(context.Context, InvoicePaymentFailed) error {
	r.called = "invoice"
	return errors.New("boom")
}
func (r *recordingHandler) HandleIgnored(context.Context, Ignored) error {
	r.called = "ignored"
	return nil
}

func TestDispatchRoutesToOneHandler(t *testing.T) {
	h := &recordingHandler{}

	require.NoError(t, Dispatch(context.Background(), SubscriptionDeleted{}, h))
	assert.Equal(t, "deleted", h.called)

	err := Dispatch(context.Background(), InvoicePaymentFailed{}, h)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "invoice", h.called)
}
