package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/logging"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConsumer() *Consumer {
	return &Consumer{workers: 4, minBackoff: time.Millisecond, maxBackoff: 4 * time.Millisecond, log: logging.Or(nil)}
}

func TestHandleWithRetryUntilSuccess(t *testing.T) {
	c := testConsumer()
	calls := 0
	h := func(context.Context, kafka.Message) error {
		calls++
		if calls < 3 {
			return errors.New("db down")
		}
		return nil
	}

	require.NoError(t, c.handleWithRetry(context.Background(), h, kafka.Message{Partition: 1, Offset: 7}))
	assert.Equal(t, 3, calls)
}

func TestHandleWithRetryStopsOnCancel(t *testing.T) {
	c := testConsumer()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	calls := 0
	err := c.handleWithRetry(ctx, func(context.Context, kafka.Message) error {
		calls++
		return errors.New("still down")
	}, kafka.Message{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, calls, 1)
}

func TestLaneIsStablePerPartition(t *testing.T) {
	for p := 0; p < 16; p++ {
		l := lane(p, 4)
		assert.Equal(t, l, lane(p, 4))
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, 4)
	}
	assert.Equal(t, 0, lane(5, 1))
}
