//go:build integration

package state

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedisContainer(t *testing.T, ctx context.Context) (*redis.Client, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})

	cleanup := func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_RedisStore(t *testing.T) {
	ctx := context.Background()
	client, cleanup := setupRedisContainer(t, ctx)
	defer cleanup()

	s := NewRedisStore(client, "session-a", time.Hour)

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, CurrentOrganizationKey, "org-1"))

		v, err := s.Get(ctx, CurrentOrganizationKey)
		require.NoError(t, err)
		require.Equal(t, "org-1", v)
	})

	t.Run("prefixes are isolated", func(t *testing.T) {
		other := s.WithPrefix("session-b")

		_, err := other.Get(ctx, CurrentOrganizationKey)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, CurrentOrganizationKey))

		_, err := s.Get(ctx, CurrentOrganizationKey)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ttl applied", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", "v"))

		ttl, err := client.TTL(ctx, "session-a:k").Result()
		require.NoError(t, err)
		require.Greater(t, ttl, time.Duration(0))
	})
}
