package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-reconcile/internal/apperr"
	"github.com/imrishuroy/go-checkout-reconcile/internal/aws"
	"github.com/imrishuroy/go-checkout-reconcile/internal/checkout"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/processor"
	"github.com/imrishuroy/go-checkout-reconcile/internal/reconcile"
	"github.com/imrishuroy/go-checkout-reconcile/internal/store"
	"github.com/imrishuroy/go-checkout-reconcile/internal/users"
	"github.com/imrishuroy/go-checkout-reconcile/internal/validation"
	"github.com/imrishuroy/go-checkout-reconcile/internal/webhooks"
)

type stubProcessor struct {
	sessionErr error
	refunds    int
}

func (p *stubProcessor) Name() string { return "stub" }

func (p *stubProcessor) CreateSession(ctx context.Context, req processor.SessionRequest) (*processor.Session, error) {
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	return &processor.Session{ID: "sess-" + req.OrderID, CheckoutURL: "https://pay.example/" + req.OrderID}, nil
}

func (p *stubProcessor) CreateRefund(ctx context.Context, req processor.RefundRequest) (*processor.Refund, error) {
	p.refunds++
	return &processor.Refund{ID: "rf_1", Body: []byte(`{"id":"rf_1"}`)}, nil
}

type stubThrottle struct {
	wait     time.Duration
	failures int
	resets   int
}

func (s *stubThrottle) Blocked(context.Context, string) time.Duration { return s.wait }
func (s *stubThrottle) Failed(context.Context, string)                { s.failures++ }
func (s *stubThrottle) Succeeded(context.Context, string)             { s.resets++ }

type recordingReplays struct {
	msgs []aws.ReplayMessage
}

func (r *recordingReplays) PublishReplay(ctx context.Context, msg aws.ReplayMessage) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

type failingReconciler struct{}

func (failingReconciler) Reconcile(context.Context, webhooks.Fields) (reconcile.Outcome, error) {
	return reconcile.Outcome{}, apperr.Storage("apply event", errors.New("database is locked"))
}

type verifierFunc func(payload []byte, signature string) error

func (f verifierFunc) VerifyWebhook(payload []byte, signature string) error { return f(payload, signature) }

type testAPI struct {
	router *gin.Engine
	cfg    HandlerConfig
	proc   *stubProcessor
	orders *orders.Store
	users  *users.Store
}

func newTestAPI(t *testing.T, mutate ...func(*HandlerConfig)) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.OpenAndMigrate(context.Background(), store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	api := &testAPI{
		proc:   &stubProcessor{},
		orders: orders.NewStore(db),
		users:  users.NewStore(db),
	}
	ledger := webhooks.NewLedger(db)
	api.cfg = HandlerConfig{
		Orders:   api.orders,
		Ledger:   ledger,
		Engine:   reconcile.NewEngine(api.orders, ledger, "TWD", nil),
		Checkout: checkout.NewService(api.orders, api.proc, nil, checkout.Config{FrontendBaseURL: "https://shop.example"}),
		Users:    api.users,
		Auth:     NewAuth("test-secret"),
		Validate: validation.New(),
	}
	for _, m := range mutate {
		m(&api.cfg)
	}
	api.router = gin.New()
	RegisterRoutes(api.router, api.cfg)
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) token(t *testing.T) map[string]string {
	t.Helper()
	tok, _, err := a.cfg.Auth.Issue("ops@example.com")
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestLogin(t *testing.T) {
	throttle := &stubThrottle{}
	api := newTestAPI(t, func(c *HandlerConfig) { c.Throttle = throttle })
	_, err := api.users.Create(context.Background(), "ops@example.com", "pw")
	require.NoError(t, err)

	w := api.do(t, http.MethodPost, "/login", map[string]string{"email": "ops@example.com", "password": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 1, throttle.failures)

	w = api.do(t, http.MethodPost, "/login", map[string]string{"email": " OPS@example.com", "password": "pw"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, throttle.resets)
	tok := decode(t, w)["token"].(string)

	w = api.do(t, http.MethodGet, "/orders", nil, map[string]string{"Authorization": "Bearer " + tok})
	assert.Equal(t, http.StatusOK, w.Code)

	throttle.wait = time.Minute
	w = api.do(t, http.MethodPost, "/login", map[string]string{"email": "ops@example.com", "password": "pw"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, float64(60), decode(t, w)["retry_after"])
}

func TestOperatorRoutesNeedToken(t *testing.T) {
	api := newTestAPI(t)
	for _, path := range []string{"/orders", "/webhook-events", "/users"} {
		w := api.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)

		w = api.do(t, http.MethodGet, path, nil, map[string]string{"Authorization": "Bearer garbage"})
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestExpiredToken(t *testing.T) {
	api := newTestAPI(t)
	api.cfg.Auth.nowFunc = func() time.Time { return time.Now().Add(-25 * time.Hour) }
	headers := api.token(t)
	api.cfg.Auth.nowFunc = time.Now

	w := api.do(t, http.MethodGet, "/orders", nil, headers)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUsers(t *testing.T) {
	api := newTestAPI(t)
	headers := api.token(t)

	w := api.do(t, http.MethodPost, "/users", map[string]string{"email": "new@example.com", "password": "pw"}, headers)
	require.Equal(t, http.StatusCreated, w.Code)

	w = api.do(t, http.MethodPost, "/users", map[string]string{"email": "NEW@example.com", "password": "pw"}, headers)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(t, http.MethodPost, "/users", map[string]string{"email": "not-an-email", "password": "pw"}, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/users?limit=10", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["users"], 1)
}

func TestCreateCheckoutSession(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/create-checkout-session", map[string]any{"amount": "100", "productName": "Plan A", "mail": "buyer@example.com"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	orderID := body["orderId"].(string)
	assert.Equal(t, "sess-"+orderID, body["sessionId"])
	assert.Equal(t, "https://pay.example/"+orderID, body["checkoutUrl"])

	w = api.do(t, http.MethodGet, "/orders/"+orderID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	order := decode(t, w)["order"].(map[string]any)
	assert.Equal(t, "created", order["status"])
	assert.Equal(t, "TWD", order["currency"])

	w = api.do(t, http.MethodGet, "/orders/by-session/sess-"+orderID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, orderID, decode(t, w)["order"].(map[string]any)["id"])
}

func TestCreateCheckoutSession_Invalid(t *testing.T) {
	api := newTestAPI(t)
	for _, body := range []string{
		`{"amount":0,"productName":"p"}`,
		`{"amount":10}`,
		`{"amount":"ten","productName":"p"}`,
		`not json`,
	} {
		w := api.do(t, http.MethodPost, "/create-checkout-session", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestCreateCheckoutSession_RemoteError(t *testing.T) {
	api := newTestAPI(t)
	api.proc.sessionErr = &processor.RemoteError{
		Status:  http.StatusUnprocessableEntity,
		Body:    []byte(`{"message":"currency not supported"}`),
		Message: "currency not supported",
	}

	w := api.do(t, http.MethodPost, "/create-checkout-session", map[string]any{"amount": 10, "currency": "XXX", "productName": "p"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "currency not supported", body["error"])
	assert.Equal(t, float64(http.StatusUnprocessableEntity), body["processorStatus"])
	assert.Equal(t, map[string]any{"message": "currency not supported"}, body["processorResponse"])
}

func TestOrderNotFound(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/orders/missing", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/orders/by-session/missing", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, "/orders/missing/cancel", map[string]string{"mail": "a@b.com", "reason": "other"}, nil).Code)
}

const succeededEvent = `{"object":"order.succeeded","data":{"order":{"id":"po-1","status":"succeeded",
	"amount":{"amount":100,"currency":"TWD"},"items":[{"detail":{"product":{"label":"Plan A"}}}]}}}`

func TestWebhook_CheckoutToRefund(t *testing.T) {
	api := newTestAPI(t)
	headers := api.token(t)

	w := api.do(t, http.MethodPost, "/create-checkout-session", map[string]any{"amount": 100, "currency": "TWD", "productName": "Plan A", "mail": "buyer@example.com"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	orderID := decode(t, w)["orderId"].(string)

	w = api.do(t, http.MethodPost, "/webhook", succeededEvent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["received"])

	o, err := api.orders.Get(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusSucceeded, o.Status)
	require.NotNil(t, o.ProcessorOrderID)
	assert.Equal(t, "po-1", *o.ProcessorOrderID)

	w = api.do(t, http.MethodGet, "/webhook-events?orderId=po-1", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode(t, w)["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "order.succeeded", events[0].(map[string]any)["eventType"])

	w = api.do(t, http.MethodPost, "/orders/"+orderID+"/cancel", map[string]string{"mail": "someone@example.com", "reason": "duplicate_payment"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, api.proc.refunds)

	w = api.do(t, http.MethodPost, "/orders/"+orderID+"/cancel", map[string]string{"mail": "buyer@example.com", "reason": "other"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/orders/"+orderID+"/cancel", map[string]string{"mail": "buyer@example.com", "reason": "duplicate_payment"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "refunded", body["order"].(map[string]any)["status"])
	assert.Equal(t, map[string]any{"id": "rf_1"}, body["refund"])

	// a late re-delivery does not undo the refund
	w = api.do(t, http.MethodPost, "/webhook", succeededEvent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	o, err = api.orders.Get(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefunded, o.Status)
}

func TestWebhook_MalformedIsLedgered(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/webhook", `{"broken":`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["received"])

	w = api.do(t, http.MethodGet, "/webhook-events", nil, api.token(t))
	require.Equal(t, http.StatusOK, w.Code)
	events := decode(t, w)["events"].([]any)
	require.Len(t, events, 1)
	ev := events[0].(map[string]any)
	assert.Equal(t, webhooks.UnknownType, ev["eventType"])
	assert.Nil(t, ev["payload"])
}

func TestWebhook_StorageFailureQueuesReplay(t *testing.T) {
	replays := &recordingReplays{}
	api := newTestAPI(t, func(c *HandlerConfig) {
		c.Engine = failingReconciler{}
		c.Replays = replays
	})

	w := api.do(t, http.MethodPost, "/webhook", succeededEvent, map[string]string{"X-Request-Id": "req-1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, replays.msgs, 1)
	assert.Equal(t, int64(1), replays.msgs[0].EventID)
	assert.Equal(t, "req-1", replays.msgs[0].CorrelationID)
}

func TestWebhook_SignatureRejected(t *testing.T) {
	api := newTestAPI(t, func(c *HandlerConfig) {
		c.Verifier = verifierFunc(func(payload []byte, signature string) error {
			if signature != "good" {
				return errors.New("bad signature")
			}
			return nil
		})
	})

	w := api.do(t, http.MethodPost, "/webhook", succeededEvent, map[string]string{"Stripe-Signature": "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/webhook-events", nil, api.token(t))
	assert.Empty(t, decode(t, w)["events"])

	w = api.do(t, http.MethodPost, "/webhook", succeededEvent, map[string]string{"Stripe-Signature": "good"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWriteError_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validation("amount", "bad"), http.StatusBadRequest},
		{apperr.ErrForbidden, http.StatusForbidden},
		{apperr.ErrNotFound, http.StatusNotFound},
		{checkout.ErrInProgress, http.StatusConflict},
		{&processor.RemoteError{Status: http.StatusBadGateway, Message: "timeout"}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		writeError(c, tc.err)
		assert.Equal(t, tc.want, w.Code, "%v", tc.err)
	}
}
