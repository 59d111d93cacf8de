package main

import (
	"context"
	"net"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newDockerPool connects to the local docker daemon. Tests needing
// containers are skipped when it is not reachable.
func newDockerPool(t *testing.T) *dockertest.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("Failed to start Dockertest: %+v", err)
	}
	if err = pool.Client.Ping(); err != nil {
		t.Skipf("Could not connect to Docker: %+v", err)
	}
	return pool
}

func startRedisDockerContainer(t *testing.T) string {
	t.Helper()
	pool := newDockerPool(t)

	resource, err := pool.Run("redis", "7.0.10-alpine", nil)
	if err != nil {
		t.Fatalf("Failed to start redis: %+v", err)
	}
	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("Failed to purge resource: %+v", err)
		}
	})

	// build address the container is listening on
	addr := net.JoinHostPort("localhost", resource.GetPort("6379/tcp"))

	// ensure to wait for the container to be ready
	err = pool.Retry(func() error {
		client := redis.NewClient(&redis.Options{Addr: addr})
		defer client.Close()
		return client.Ping(context.Background()).Err()
	})
	if err != nil {
		t.Fatalf("Failed to ping Redis: %+v", err)
	}
	return addr
}

func TestRedisStore(t *testing.T) {
	addr := startRedisDockerContainer(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	client, err := GetRedisClient(&Config{Redis: RedisConfig{Host: host, Port: port}})
	require.NoError(t, err)
	rs := NewRedisBookStorage(zap.NewNop(), client)
	defer rs.Close()

	testBookStorage(t, rs)

	t.Run("Add Book With Existing ID", func(t *testing.T) {
		books, err := rs.GetAll(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, books)
		dup := Book{ID: books[0].ID, Title: "Duplicate", Author: "Someone"}
		assert.Error(t, rs.Add(context.Background(), &dup))
	})

	t.Run("Add Book With Explicit ID", func(t *testing.T) {
		testExplicitIDs(t, rs)
	})

	t.Run("Add Book With Negative ID", func(t *testing.T) {
		assert.Error(t, rs.Add(context.Background(), &Book{ID: -1, Title: "Negative", Author: "Someone"}))
	})
}
