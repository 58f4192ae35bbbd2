package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := retry(context.Background(), "op", time.Minute, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryGivesUpAfterDeadline(t *testing.T) {
	boom := errors.New("boom")
	err := retry(context.Background(), "op", -time.Second, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry(ctx, "op", time.Hour, func(context.Context) error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}
