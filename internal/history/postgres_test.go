package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"papertrader/pkg/conn"
)

func startPostgres(t *testing.T) *conn.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "trader",
				"POSTGRES_PASSWORD": "trader",
				"POSTGRES_DB":       "papertrader",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	client, err := conn.New(ctx, conn.Option{
		Host:     host,
		Port:     port.Int(),
		User:     "trader",
		Password: "trader",
		Database: "papertrader",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPostgresProvider(t *testing.T) {
	client := startPostgres(t)
	loc := kolkata(t)
	p, err := NewPostgresProvider(context.Background(), client, loc)
	require.NoError(t, err)
	runProviderContract(t, p, loc)
}
