package rediscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeClient) Set(_ context.Context, key string, value interface{}, exp time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.data[key] = value.(string)
	f.ttls[key] = exp
	return nil
}

func (f *fakeClient) Ping(context.Context) error { return f.err }
func (f *fakeClient) Close() error               { return nil }

func TestCache_MissThenHit(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	c := New(fc, time.Hour)

	_, ok, err := c.Get(ctx, "credit:k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "credit:k1", "01HX"))
	assert.Equal(t, "01HX", fc.data["ledger:idem:credit:k1"])
	assert.Equal(t, time.Hour, fc.ttls["ledger:idem:credit:k1"])

	id, ok, err := c.Get(ctx, "credit:k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, "01HX", id)
}

func TestCache_PropagatesErrors(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	fc.err = errors.New("connection refused")
	c := New(fc, 0)

	_, _, err := c.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, c.Put(ctx, "k", "e"))
	assert.Equal(t, DefaultTTL, c.ttl)
}
