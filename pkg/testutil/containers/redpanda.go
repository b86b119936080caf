//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcredpanda "github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kgo"
)

// RedpandaContainer wraps a testcontainers Redpanda instance. Redpanda is
// Kafka-wire-compatible, so the franz-go client talks to it unchanged.
type RedpandaContainer struct {
	Container testcontainers.Container
	Broker    string
}

// NewRedpandaContainer starts a new Redpanda container.
func NewRedpandaContainer(t *testing.T) *RedpandaContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcredpanda.Run(ctx, "redpandadata/redpanda:v24.1.2")
	if err != nil {
		t.Fatalf("failed to start redpanda container: %v", err)
	}

	broker, err := container.KafkaSeedBroker(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get redpanda seed broker: %v", err)
	}

	// Test connection
	client, err := kgo.NewClient(kgo.SeedBrokers(broker))
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to create kafka client: %v", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping redpanda: %v", err)
	}
	client.Close()

	// Note: We don't register t.Cleanup here because the container is managed
	// by the singleton Manager and shared across test suites. Ryuk handles cleanup.

	return &RedpandaContainer{Container: container, Broker: broker}
}
