package redis

import (
	"context"
	"os"
	"testing"

	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/storage"
	"github.com/safetyhub/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"all reports", reportsKey(""), "reports"},
		{"efir reports", reportsKey(model.ReportEFIR), "reports:efir"},
		{"rating reports", reportsKey(model.ReportRating), "reports:rating"},
		{"rating aggregate", ratingKey("taj"), "rating:taj"},
		{"push subscriptions", pushKey("T1"), "push:T1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestHistoryRange(t *testing.T) {
	assert.Equal(t, int64(-1), historyRange(0))
	assert.Equal(t, int64(-1), historyRange(-5))
	assert.Equal(t, int64(0), historyRange(1))
	assert.Equal(t, int64(49), historyRange(50))
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), "not a url")
	assert.Error(t, err)
}

// REDIS_TEST_URL points at a scratch database; it is flushed before each case.
func TestStoreBehaviour(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		ctx := context.Background()
		c, err := New(ctx, url)
		require.NoError(t, err)
		require.NoError(t, c.cli.FlushDB(ctx).Err())
		t.Cleanup(func() { _ = c.Close() })
		return c
	})
}
