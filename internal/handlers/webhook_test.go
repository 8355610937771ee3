package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/PortNumber53/fitmarket-payments/internal/booking"
	"github.com/PortNumber53/fitmarket-payments/internal/metrics"
	"github.com/PortNumber53/fitmarket-payments/internal/models"
	"github.com/PortNumber53/fitmarket-payments/internal/notify"
	"github.com/PortNumber53/fitmarket-payments/internal/store"
	"github.com/PortNumber53/fitmarket-payments/internal/stripe"
	whdispatch "github.com/PortNumber53/fitmarket-payments/internal/webhook"
)

const testWebhookSecret = "whsec_handler_test"

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newWebhookHarness(t *testing.T, secret string) (*WebhookHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st, err := store.New(db)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	machine := booking.NewMachine(st, notify.NewEnqueuer(st), quietLogger())
	dispatcher := whdispatch.NewDispatcher(st, machine, nil, metrics.Nop{}, quietLogger())
	return NewWebhookHandler(stripe.NewVerifier(secret), dispatcher, quietLogger()), mock
}

func signedRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func succeededPayload(eventID, bookingID string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"payment_intent.succeeded","created":1700000000,"api_version":"2020-08-27","data":{"object":{"id":"pi_1","object":"payment_intent","metadata":{"bookingId":%q}}}}`, eventID, bookingID)
}

func TestWebhookInvalidSignatureTouchesNothing(t *testing.T) {
	h, mock := newWebhookHarness(t, testWebhookSecret)

	req := signedRequest(t, "whsec_attacker", succeededPayload("evt_1", "b1"))
	rr := httptest.NewRecorder()
	h.HandleWebhook().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected store calls: %v", err)
	}
}

func TestWebhookMissingSecretIs500(t *testing.T) {
	h, _ := newWebhookHarness(t, "")

	rr := httptest.NewRecorder()
	h.HandleWebhook().ServeHTTP(rr, signedRequest(t, testWebhookSecret, succeededPayload("evt_1", "b1")))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
}

func TestWebhookUnknownBookingIsAcknowledged(t *testing.T) {
	h, mock := newWebhookHarness(t, testWebhookSecret)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).WithArgs("evt_2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE bookings`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM bookings WHERE id = $1`)).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO processed_events`)).WithArgs("evt_2", "payment_intent.succeeded").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := httptest.NewRecorder()
	h.HandleWebhook().ServeHTTP(rr, signedRequest(t, testWebhookSecret, succeededPayload("evt_2", "missing")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "{\"received\":true}\n" {
		t.Fatalf("unexpected body %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWebhookDuplicateEventSkipsBooking(t *testing.T) {
	h, mock := newWebhookHarness(t, testWebhookSecret)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).WithArgs("evt_3").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	rr := httptest.NewRecorder()
	h.HandleWebhook().ServeHTTP(rr, signedRequest(t, testWebhookSecret, succeededPayload("evt_3", "b1")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWebhookPersistenceFailureIs500(t *testing.T) {
	h, mock := newWebhookHarness(t, testWebhookSecret)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).WithArgs("evt_4").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE bookings`)).
		WillReturnError(errors.New("connection reset"))

	rr := httptest.NewRecorder()
	h.HandleWebhook().ServeHTTP(rr, signedRequest(t, testWebhookSecret, succeededPayload("evt_4", "b1")))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
}

func TestWebhookIgnoredEventIsAcknowledged(t *testing.T) {
	h, mock := newWebhookHarness(t, testWebhookSecret)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).WithArgs("evt_5").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	payload := `{"id":"evt_5","object":"event","type":"charge.refunded","created":1700000000,"api_version":"2020-08-27","data":{"object":{"id":"ch_1","object":"charge"}}}`
	rr := httptest.NewRecorder()
	h.HandleWebhook().ServeHTTP(rr, signedRequest(t, testWebhookSecret, payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

var webhookBookingColumns = []string{
	"id", "user_id", "trainer_id", "scheduled_at", "duration_minutes", "location",
	"price_cents", "currency", "notes", "status", "payment_status", "payment_intent_id",
	"paid_at", "notified_at", "created_at", "updated_at",
}

func confirmedBookingRow(notifiedAt any) *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(webhookBookingColumns).AddRow(
		"b1", "u1", "t1", now, 60, "Riverside Gym",
		int64(4500), "usd", "", "confirmed", "paid", "pi_1",
		now, notifiedAt, now, now,
	)
}

func TestWebhookPaymentSucceededQueuesConfirmation(t *testing.T) {
	h, mock := newWebhookHarness(t, testWebhookSecret)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).WithArgs("evt_a").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE bookings`)).
		WithArgs("b1", "pi_1", sqlmock.AnyArg()).
		WillReturnRows(confirmedBookingRow(nil))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET notified_at = now()`)).
		WithArgs("b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO jobs`)).
		WithArgs(notify.JobBookingConfirmationEmail, sqlmock.AnyArg(), models.JobStatusPending, models.JobPriorityHigh, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(1), now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO jobs`)).
		WithArgs(notify.JobBookingConfirmationPush, sqlmock.AnyArg(), models.JobStatusPending, models.JobPriorityHigh, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(2), now, now))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO processed_events`)).WithArgs("evt_a", "payment_intent.succeeded").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := httptest.NewRecorder()
	h.HandleWebhook().ServeHTTP(rr, signedRequest(t, testWebhookSecret, succeededPayload("evt_a", "b1")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWebhookPaymentSucceededRedeliveryQueuesNothing(t *testing.T) {
	h, mock := newWebhookHarness(t, testWebhookSecret)
	notified := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)

	// a redelivery under a new event id finds the booking already confirmed and stamped
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).WithArgs("evt_b").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE bookings`)).
		WithArgs("b1", "pi_1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(webhookBookingColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM bookings WHERE id = $1`)).WithArgs("b1").
		WillReturnRows(confirmedBookingRow(notified))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO processed_events`)).WithArgs("evt_b", "payment_intent.succeeded").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := httptest.NewRecorder()
	h.HandleWebhook().ServeHTTP(rr, signedRequest(t, testWebhookSecret, succeededPayload("evt_b", "b1")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
