package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-reconcile/internal/apperr"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/store"
	"github.com/imrishuroy/go-checkout-reconcile/internal/webhooks"
)

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) IncCounter(_ context.Context, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[name]++
}

type fixture struct {
	orders  *orders.Store
	ledger  *webhooks.Ledger
	engine  *Engine
	metrics *countingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenAndMigrate(context.Background(), store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var clockMu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orderStore := orders.NewStore(db).WithClock(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(time.Second)
		return now
	})
	ledger := webhooks.NewLedger(db)
	m := &countingMetrics{}
	return &fixture{
		orders:  orderStore,
		ledger:  ledger,
		engine:  NewEngine(orderStore, ledger, "TWD", m),
		metrics: m,
	}
}

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

func TestUpsertFromEvent_Idempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	u := Upsert{ProcessorOrderID: "po-1", Status: orders.StatusSucceeded, Amount: f64(100), Currency: str("TWD")}
	first, err := fx.engine.UpsertFromEvent(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, OutcomeShadow, first.Kind)

	before, err := fx.orders.Get(ctx, first.OrderID)
	require.NoError(t, err)

	second, err := fx.engine.UpsertFromEvent(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExact, second.Kind)
	assert.Equal(t, first.OrderID, second.OrderID)

	after, err := fx.orders.Get(ctx, first.OrderID)
	require.NoError(t, err)
	after.UpdatedAt = before.UpdatedAt
	assert.Equal(t, before, after)

	all, err := fx.orders.List(ctx, orders.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertFromEvent_FuzzyPicksNewest(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	newOrder := orders.NewOrder{Amount: 100, Currency: "TWD", ProductName: "Plan A"}
	t1, err := fx.orders.Create(ctx, newOrder)
	require.NoError(t, err)
	t2, err := fx.orders.Create(ctx, newOrder)
	require.NoError(t, err)

	out, err := fx.engine.UpsertFromEvent(ctx, Upsert{
		ProcessorOrderID: "po-1",
		Status:           orders.StatusSucceeded,
		Amount:           f64(100),
		Currency:         str("TWD"),
		ProductName:      str("Plan A"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFuzzy, out.Kind)
	assert.Equal(t, t2, out.OrderID)

	adopted, err := fx.orders.Get(ctx, t2)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusSucceeded, adopted.Status)
	require.NotNil(t, adopted.ProcessorOrderID)
	assert.Equal(t, "po-1", *adopted.ProcessorOrderID)

	untouched, err := fx.orders.Get(ctx, t1)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCreated, untouched.Status)
	assert.Nil(t, untouched.ProcessorOrderID)
}

func TestUpsertFromEvent_FuzzyNeedsAllFields(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.orders.Create(ctx, orders.NewOrder{Amount: 100, Currency: "TWD", ProductName: "Plan A"})
	require.NoError(t, err)

	out, err := fx.engine.UpsertFromEvent(ctx, Upsert{
		ProcessorOrderID: "po-1",
		Status:           orders.StatusSucceeded,
		Amount:           f64(100),
		Currency:         str("TWD"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeShadow, out.Kind)
}

func TestUpsertFromEvent_ShadowDefaults(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.engine.UpsertFromEvent(ctx, Upsert{ProcessorOrderID: "po-new", Status: orders.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, OutcomeShadow, out.Kind)

	o, err := fx.orders.GetByProcessorOrderID(ctx, "po-new")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, out.OrderID, o.ID)
	assert.Equal(t, 0.0, o.Amount)
	assert.Equal(t, "TWD", o.Currency)
	assert.Equal(t, orders.UnknownProductName, o.ProductName)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Nil(t, o.SessionID)

	all, err := fx.orders.List(ctx, orders.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1, fx.metrics.counts["Reconcile.shadow"])
}

func TestUpsertFromEvent_RequiresProcessorOrderID(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.engine.UpsertFromEvent(context.Background(), Upsert{Status: orders.StatusPending})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestReconcile_SessionLinkBeatsFuzzy(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	newOrder := orders.NewOrder{Amount: 100, Currency: "TWD", ProductName: "Plan A"}
	viaSession, err := fx.orders.Create(ctx, newOrder)
	require.NoError(t, err)
	require.NoError(t, fx.orders.AttachSession(ctx, viaSession, "sess-1"))
	// a newer twin that the fuzzy path would otherwise choose
	_, err = fx.orders.Create(ctx, newOrder)
	require.NoError(t, err)

	out, err := fx.engine.Reconcile(ctx, webhooks.Fields{
		Type:             "order.succeeded",
		Status:           "order.succeeded",
		ProcessorOrderID: "po-1",
		SessionID:        "sess-1",
		Amount:           f64(100),
		Currency:         str("TWD"),
		ProductName:      str("Plan A"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSession, out.Kind)
	assert.Equal(t, viaSession, out.OrderID)

	o, err := fx.orders.Get(ctx, viaSession)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusSucceeded, o.Status)
}

func TestReconcile_Skips(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.engine.Reconcile(ctx, webhooks.Fields{Type: "order.succeeded", Status: "order.succeeded"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out.Kind)

	out, err = fx.engine.Reconcile(ctx, webhooks.Fields{Type: "invoice.sent", Status: "invoice.sent", ProcessorOrderID: "po-1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out.Kind)

	o, err := fx.orders.GetByProcessorOrderID(ctx, "po-1")
	require.NoError(t, err)
	assert.Nil(t, o)
	assert.Equal(t, 2, fx.metrics.counts["Reconcile.skipped"])
}

func TestReconcile_RefundedOrderIgnoresLateEvent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.engine.UpsertFromEvent(ctx, Upsert{ProcessorOrderID: "po-1", Status: orders.StatusSucceeded})
	require.NoError(t, err)
	_, err = fx.orders.MarkRefunded(ctx, out.OrderID, orders.Refund{CancelReason: "duplicate_payment", Reason: "duplicate_payment"})
	require.NoError(t, err)

	_, err = fx.engine.Reconcile(ctx, webhooks.Fields{Status: "order.succeeded", ProcessorOrderID: "po-1"})
	require.NoError(t, err)

	o, err := fx.orders.Get(ctx, out.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefunded, o.Status)
}

func TestReplay(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	ev, _, err := fx.ledger.Record(ctx, []byte(`{"object":"order.succeeded","data":{"order":{"id":"po-7","amount":{"amount":50,"currency":"USD"}}}}`))
	require.NoError(t, err)

	first, err := fx.engine.Replay(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeShadow, first.Kind)

	again, err := fx.engine.Replay(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExact, again.Kind)
	assert.Equal(t, first.OrderID, again.OrderID)

	o, err := fx.orders.Get(ctx, first.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, o.Amount)
	assert.Equal(t, "USD", o.Currency)

	_, err = fx.engine.Replay(ctx, 999)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestReconcile_PaymentIntentBeforeSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	id, err := fx.orders.Create(ctx, orders.NewOrder{Amount: 100, Currency: "TWD", ProductName: "Plan A"})
	require.NoError(t, err)
	require.NoError(t, fx.orders.AttachSession(ctx, id, "cs_1"))

	intent := fmt.Sprintf(`{"object":"event","type":"payment_intent.succeeded","data":{"object":{
		"id":"pi_1","object":"payment_intent","amount":10000,"currency":"twd",
		"metadata":{"order_id":%q,"product_name":"Plan A"}}}}`, id)
	out, err := fx.engine.Reconcile(ctx, webhooks.ExtractRaw([]byte(intent)))
	require.NoError(t, err)
	assert.Equal(t, Outcome{Kind: OutcomeReference, OrderID: id}, out)

	session := fmt.Sprintf(`{"object":"event","type":"checkout.session.completed","data":{"object":{
		"id":"cs_1","object":"checkout.session","payment_intent":"pi_1","client_reference_id":%q,
		"amount_total":10000,"currency":"twd"}}}`, id)
	out, err = fx.engine.Reconcile(ctx, webhooks.ExtractRaw([]byte(session)))
	require.NoError(t, err)
	assert.Equal(t, Outcome{Kind: OutcomeSession, OrderID: id}, out)

	o, err := fx.orders.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusSucceeded, o.Status)
	require.NotNil(t, o.ProcessorOrderID)
	assert.Equal(t, "pi_1", *o.ProcessorOrderID)

	list, err := fx.orders.List(ctx, orders.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, fx.metrics.counts["Reconcile.reference"])
}
