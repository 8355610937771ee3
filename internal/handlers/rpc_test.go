package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/fitmarket-payments/internal/billing"
	"github.com/PortNumber53/fitmarket-payments/internal/middleware"
	"github.com/PortNumber53/fitmarket-payments/internal/models"
	"github.com/PortNumber53/fitmarket-payments/internal/notify"
	"github.com/PortNumber53/fitmarket-payments/internal/stripe"
)

type stubGateway struct {
	last stripe.PaymentIntentRequest
	err  error
}

func (s *stubGateway) CreatePaymentIntent(_ context.Context, req stripe.PaymentIntentRequest) (*stripe.PaymentIntent, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &stripe.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret"}, nil
}

type stubSubscriptions struct {
	lastCheckout billing.CheckoutRequest
	view         models.SubscriptionView
	err          error
}

func (s *stubSubscriptions) StartCheckout(_ context.Context, req billing.CheckoutRequest) (string, error) {
	s.lastCheckout = req
	return "https://checkout.test/session", s.err
}

func (s *stubSubscriptions) OpenPortal(_ context.Context, _, _ string) (string, error) {
	return "https://billing.test/portal", s.err
}

func (s *stubSubscriptions) Status(context.Context, string) (models.SubscriptionView, error) {
	return s.view, s.err
}

type stubDevices struct{ saved []*models.DeviceToken }

func (s *stubDevices) UpsertDeviceToken(_ context.Context, tok *models.DeviceToken) error {
	s.saved = append(s.saved, tok)
	return nil
}

type stubPush struct {
	account string
	res     notify.PushResult
}

func (s *stubPush) PushToAccount(_ context.Context, accountID string, _ notify.Message) (notify.PushResult, error) {
	s.account = accountID
	return s.res, nil
}

type stubBookings struct{}

func (stubBookings) Get(_ context.Context, bookingID, callerID string) (*models.Booking, error) {
	if bookingID != "b1" {
		return nil, models.ErrBookingNotFound
	}
	if callerID != "u1" {
		return nil, models.ErrPermissionDenied
	}
	return &models.Booking{ID: "b1", UserID: "u1", TrainerID: "t1", Status: models.BookingConfirmed, PaymentStatus: models.PaymentPaid}, nil
}

func newRPCRouter(h *RPCHandler) chi.Router {
	h.Logger = quietLogger()
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func call(t *testing.T, router http.Handler, method, path string, c *middleware.Caller, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if c != nil {
		req = req.WithContext(middleware.WithCaller(req.Context(), *c))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func errorStatus(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error rpcError `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Status
}

var payer = &middleware.Caller{ID: "u1", Email: "u1@example.com"}

func TestCreatePaymentIntent(t *testing.T) {
	gw := &stubGateway{}
	router := newRPCRouter(&RPCHandler{Gateway: gw})

	rr := call(t, router, http.MethodPost, "/api/rpc/createPaymentIntent", payer,
		`{"amount":45.5,"trainerId":"t1","userId":"u1","bookingId":"b1","duration":60}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp createPaymentIntentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ClientSecret != "pi_1_secret" || resp.PaymentIntentID != "pi_1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if gw.last.Amount != 4550 || gw.last.Currency != "usd" {
		t.Fatalf("expected 4550 usd, got %d %s", gw.last.Amount, gw.last.Currency)
	}
	want := map[string]string{"bookingId": "b1", "userId": "u1", "trainerId": "t1", "duration": "60"}
	for k, v := range want {
		if gw.last.Metadata[k] != v {
			t.Fatalf("metadata %s: expected %q got %q", k, v, gw.last.Metadata[k])
		}
	}
}

func TestCreatePaymentIntentRejects(t *testing.T) {
	tests := []struct {
		name   string
		h      *RPCHandler
		caller *middleware.Caller
		body   string
		code   int
		status string
	}{
		{"unauthenticated", &RPCHandler{Gateway: &stubGateway{}}, nil,
			`{"amount":10,"trainerId":"t1","userId":"u1","bookingId":"b1"}`, http.StatusUnauthorized, "unauthenticated"},
		{"zero amount", &RPCHandler{Gateway: &stubGateway{}}, payer,
			`{"amount":0,"trainerId":"t1","userId":"u1","bookingId":"b1"}`, http.StatusBadRequest, "invalid-argument"},
		{"missing booking", &RPCHandler{Gateway: &stubGateway{}}, payer,
			`{"amount":10,"trainerId":"t1","userId":"u1"}`, http.StatusBadRequest, "invalid-argument"},
		{"another payer", &RPCHandler{Gateway: &stubGateway{}}, payer,
			`{"amount":10,"trainerId":"t1","userId":"u2","bookingId":"b1"}`, http.StatusForbidden, "permission-denied"},
		{"gateway unconfigured", &RPCHandler{}, payer,
			`{"amount":10,"trainerId":"t1","userId":"u1","bookingId":"b1"}`, http.StatusPreconditionFailed, "failed-precondition"},
		{"gateway error", &RPCHandler{Gateway: &stubGateway{err: errors.New("card network down")}}, payer,
			`{"amount":10,"trainerId":"t1","userId":"u1","bookingId":"b1"}`, http.StatusInternalServerError, "internal"},
		{"malformed body", &RPCHandler{Gateway: &stubGateway{}}, payer,
			`{"amount":`, http.StatusBadRequest, "invalid-argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := call(t, newRPCRouter(tt.h), http.MethodPost, "/api/rpc/createPaymentIntent", tt.caller, tt.body)
			if rr.Code != tt.code {
				t.Fatalf("expected %d got %d: %s", tt.code, rr.Code, rr.Body.String())
			}
			if got := errorStatus(t, rr); got != tt.status {
				t.Fatalf("expected status %q got %q", tt.status, got)
			}
		})
	}
}

func TestSystemCallerMayChargeForAnyAccount(t *testing.T) {
	router := newRPCRouter(&RPCHandler{Gateway: &stubGateway{}})
	system := &middleware.Caller{ID: "svc", Role: middleware.RoleSystem}

	rr := call(t, router, http.MethodPost, "/api/rpc/createPaymentIntent", system,
		`{"amount":10,"trainerId":"t1","userId":"u2","bookingId":"b1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestCreateSubscriptionCheckoutUsesCaller(t *testing.T) {
	subs := &stubSubscriptions{}
	router := newRPCRouter(&RPCHandler{Subscriptions: subs})

	rr := call(t, router, http.MethodPost, "/api/rpc/createSubscriptionCheckout", payer, `{"period":"3months"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if subs.lastCheckout.AccountID != "u1" || subs.lastCheckout.Email != "u1@example.com" || subs.lastCheckout.Period != "3months" {
		t.Fatalf("unexpected checkout request %+v", subs.lastCheckout)
	}
	if !strings.Contains(rr.Body.String(), `"url":"https://checkout.test/session"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestCreateCustomerPortalWithoutCustomer(t *testing.T) {
	router := newRPCRouter(&RPCHandler{Subscriptions: &stubSubscriptions{err: models.ErrSubscriptionNotFound}})

	rr := call(t, router, http.MethodPost, "/api/rpc/createCustomerPortal", payer, ``)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestGetSubscriptionStatus(t *testing.T) {
	subs := &stubSubscriptions{view: models.SubscriptionView{IsPro: true, Tier: models.TierPro, Status: models.SubscriptionTrialing}}
	router := newRPCRouter(&RPCHandler{Subscriptions: subs})

	rr := call(t, router, http.MethodPost, "/api/rpc/getSubscriptionStatus", payer, ``)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var view models.SubscriptionView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !view.IsPro || view.Status != models.SubscriptionTrialing {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestRegisterFCMToken(t *testing.T) {
	devices := &stubDevices{}
	router := newRPCRouter(&RPCHandler{Devices: devices})

	rr := call(t, router, http.MethodPost, "/api/rpc/registerFCMToken", payer, `{"token":"tok-1","deviceId":"phone","platform":"ios"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if len(devices.saved) != 1 {
		t.Fatalf("expected one saved token, got %d", len(devices.saved))
	}
	tok := devices.saved[0]
	if tok.UserID != "u1" || tok.Key != "phone" || tok.Token != "tok-1" || tok.Platform == nil || *tok.Platform != "ios" {
		t.Fatalf("unexpected token %+v", tok)
	}

	rr = call(t, router, http.MethodPost, "/api/rpc/registerFCMToken", payer, `{"token":"  "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank token, got %d", rr.Code)
	}
}

func TestSendPushNotification(t *testing.T) {
	push := &stubPush{res: notify.PushResult{SuccessCount: 2, FailureCount: 1}}
	router := newRPCRouter(&RPCHandler{Push: push})

	rr := call(t, router, http.MethodPost, "/api/rpc/sendPushNotification", payer, `{"userId":"u1","title":"Hi","body":"there"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var resp pushResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.SuccessCount != 2 || resp.FailureCount != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	rr = call(t, router, http.MethodPost, "/api/rpc/sendPushNotification", payer, `{"userId":"u2","title":"Hi"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another account, got %d", rr.Code)
	}
}

func TestGetBooking(t *testing.T) {
	router := newRPCRouter(&RPCHandler{Bookings: stubBookings{}})

	rr := call(t, router, http.MethodGet, "/api/bookings/b1", payer, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["paymentStatus"] != "paid" || body["trainerId"] != "t1" || body["userId"] != "u1" {
		t.Fatalf("expected camelCase booking fields, got %v", body)
	}
	if _, ok := body["payment_status"]; ok {
		t.Fatalf("unexpected snake_case field in %v", body)
	}
	if rr := call(t, router, http.MethodGet, "/api/bookings/b1", &middleware.Caller{ID: "stranger"}, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
	if rr := call(t, router, http.MethodGet, "/api/bookings/nope", payer, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	Health(stubPinger{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	Health(stubPinger{err: errors.New("down")}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rr.Code)
	}
}
