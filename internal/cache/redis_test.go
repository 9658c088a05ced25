package cache

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/arcana-app/arcana-go/internal/models"
)

var testCache *Redis

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testCache, err = New(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0, time.Minute, slog.New(slog.DiscardHandler))
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	code := m.Run()

	_ = testCache.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestViewRoundTrip(t *testing.T) {
	ctx := context.Background()
	view := &models.JobView{
		ID:    "job-1",
		State: models.StateRunning,
		Request: models.ReadingRequest{
			Spread: "three-card",
			Cards:  []models.CardDraw{{Name: "The Sun", Position: "past"}},
		},
	}

	testCache.PutView(ctx, view)
	got := testCache.GetView(ctx, "job-1")
	if got == nil {
		t.Fatal("expected cached view")
	}
	if got.State != models.StateRunning || got.Request.Spread != "three-card" {
		t.Errorf("view not round-tripped: %+v", got)
	}

	testCache.DeleteView(ctx, "job-1")
	if testCache.GetView(ctx, "job-1") != nil {
		t.Error("expected view to be dropped")
	}
}

func TestGetViewMiss(t *testing.T) {
	if got := testCache.GetView(context.Background(), "never-cached"); got != nil {
		t.Errorf("expected nil on miss, got %+v", got)
	}
}

func TestReserve(t *testing.T) {
	ctx := context.Background()
	if !testCache.Reserve(ctx, "client-1", time.Minute) {
		t.Fatal("first reservation should succeed")
	}
	if testCache.Reserve(ctx, "client-1", time.Minute) {
		t.Error("second reservation for the same id should fail")
	}
	if !testCache.Reserve(ctx, "client-2", time.Minute) {
		t.Error("unrelated id should reserve fine")
	}
}
