package redis_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/jonesrussell/gogen/internal/redis"
)

func TestNewClient_EmptyAddress(t *testing.T) {
	client, err := redis.NewClient(context.Background(), redis.Config{Address: ""})

	if !errors.Is(err, redis.ErrEmptyAddress) {
		t.Errorf("error = %v, want ErrEmptyAddress", err)
	}
	if client != nil {
		t.Error("expected nil client for invalid config")
	}
}

func TestNewClient_PingsOnConstruct(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := redis.NewClient(context.Background(), redis.Config{Address: mr.Addr()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
}

func TestNewClient_UnreachableServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := redis.NewClient(context.Background(), redis.Config{Address: addr}); err == nil {
		t.Error("expected error when server is unreachable")
	}
}
