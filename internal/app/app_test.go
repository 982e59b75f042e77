package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-reconcile/internal/config"
	"github.com/imrishuroy/go-checkout-reconcile/internal/idempotency"
	"github.com/imrishuroy/go-checkout-reconcile/internal/processor"
	"github.com/imrishuroy/go-checkout-reconcile/internal/store"
)

func TestNew_Tokenz(t *testing.T) {
	a, err := New(context.Background(), &config.Config{DBPath: store.MemoryPath, Processor: config.ProcessorTokenz})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "tokenz", a.Processor.Name())
	assert.Nil(t, a.Stripe)
	assert.Nil(t, a.AWS)
	assert.Nil(t, a.Replays)
	assert.IsType(t, &idempotency.SQLStore{}, a.Idempotency)
}

func TestNew_Stripe(t *testing.T) {
	a, err := New(context.Background(), &config.Config{DBPath: store.MemoryPath, Processor: config.ProcessorStripe, StripeWebhookKey: "whsec_x"})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "stripe", a.Processor.Name())
	assert.IsType(t, &processor.Stripe{}, a.Processor)
	require.NotNil(t, a.Stripe)
}

func TestNew_UnknownProcessor(t *testing.T) {
	_, err := New(context.Background(), &config.Config{DBPath: store.MemoryPath, Processor: "paypal"})
	assert.Error(t, err)
}

func TestSeedUsers(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, &config.Config{DBPath: store.MemoryPath})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.SeedUsers(ctx))
	list, err := a.Users.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 4)

	a.Config.SeedUsers = "ops@example.com:pw"
	require.NoError(t, a.SeedUsers(ctx))
	ok, err := a.Users.Authenticate(ctx, "ops@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, ok)
}
