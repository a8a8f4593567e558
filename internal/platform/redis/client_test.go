package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops/internal/platform/config"
)

func TestNew_EmptyURLMeansAbsent(t *testing.T) {
	client, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNew_ConnectsAndPings(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.NoError(t, client.Health(context.Background()))
}

func TestNew_BadURL(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{URL: "://nope"})
	assert.Error(t, err)
}
