package staging

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/redis"
)

func TestRedisAreaLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	area := NewRedisArea(client, time.Hour)
	ctx := context.Background()

	_, found, err := area.Load(ctx, "doc")
	require.NoError(t, err)
	assert.False(t, found)

	content := []byte{0x00, 'x', 0xff}
	require.NoError(t, area.Stage(ctx, "doc", content))
	assert.Equal(t, time.Hour, mr.TTL("staging:doc"))

	got, found, err := area.Load(ctx, "doc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, content, got)

	require.NoError(t, area.Discard(ctx, "doc"))
	_, found, err = area.Load(ctx, "doc")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisAreaExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	area := NewRedisArea(client, time.Minute)
	require.NoError(t, area.Stage(context.Background(), "doc", []byte("x")))
	mr.FastForward(2 * time.Minute)

	_, found, err := area.Load(context.Background(), "doc")
	require.NoError(t, err)
	assert.False(t, found)
}
