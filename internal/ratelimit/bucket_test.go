package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimitedBucketNeverBlocks(t *testing.T) {
	b := New(0, 0, time.Second)
	assert.True(t, b.Unlimited())
	require.NoError(t, b.Consume(context.Background(), 1<<30))
}

func TestConsumeDrainsBurstThenBlocks(t *testing.T) {
	b := New(10, 10, time.Hour) // never refills within the test
	require.NoError(t, b.Consume(context.Background(), 10))
	assert.False(t, b.Would(1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := b.Consume(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRefillRestoresTokensOverTime(t *testing.T) {
	b := New(10, 10, time.Second)
	require.NoError(t, b.Consume(context.Background(), 10))
	assert.Equal(t, int64(0), b.tokens.Load())

	// simulate a full period elapsing without sleeping in the test
	b.lastRefill.Store(b.now().Add(-2 * time.Second).UnixNano())
	assert.True(t, b.Would(5))
}

func TestConsumeNeverExceedsBurstPlusRateTimesWindow(t *testing.T) {
	b := New(5, 5, 10*time.Millisecond)
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var consumed int64
	for i := 0; i < 40; i++ {
		if err := b.Consume(ctx, 1); err != nil {
			break
		}
		consumed++
	}
	elapsed := time.Since(start)

	maxAllowed := int64(5) + int64(float64(5)*(elapsed.Seconds()/0.01)) + 5 // burst + rate*periods + slack
	assert.LessOrEqual(t, consumed, maxAllowed)
}

func TestManagerSeparatesGlobalAndPerServerBuckets(t *testing.T) {
	m := NewManager(100)
	s1 := m.Server("a", 10)
	s2 := m.Server("b", 20)
	assert.NotSame(t, s1, s2)
	assert.Same(t, s1, m.Server("a", 10))
	assert.NotSame(t, m.Global(), s1)
}
