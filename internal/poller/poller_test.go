package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stackdeck/stackdeck/internal/model"
	"github.com/stackdeck/stackdeck/internal/portainer"
	"github.com/stackdeck/stackdeck/internal/realtime"
	"github.com/stackdeck/stackdeck/internal/service"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type countingAPI struct {
	triggers atomic.Int64
}

func (c *countingAPI) ListStacks(ctx context.Context) ([]portainer.RemoteStack, error) {
	return nil, nil
}

func (c *countingAPI) ListWebhooks(ctx context.Context, stackID uint) ([]string, error) {
	return nil, nil
}

func (c *countingAPI) GetImageStatus(ctx context.Context, stackID uint, refresh bool) (*portainer.Indicator, error) {
	return &portainer.Indicator{Status: "updated"}, nil
}

func (c *countingAPI) TriggerWebhook(ctx context.Context, webhookURL string) error {
	c.triggers.Add(1)
	return nil
}

func setupPollerTest(t *testing.T, name string) (*service.StackService, *gorm.DB, *countingAPI) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&model.Stack{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	api := &countingAPI{}
	hub := realtime.NewHub(slog.Default())
	svc := service.NewStackService(db, api, hub, slog.Default())
	return svc, db, api
}

func TestPollerRunsSweep(t *testing.T) {
	svc, db, api := setupPollerTest(t, "poller-sweep")
	db.Create(&model.Stack{
		Name: "due", WebhookURL: "https://p.example/hook/1", ImageStatus: "unknown",
		AutoUpdateEnabled: true, AutoUpdateIntervalHours: 24,
	})

	p := New(svc, 10*time.Millisecond, slog.Default())
	p.Start()
	defer p.Stop()

	// Never-updated enabled stacks are always due, so the first tick should
	// trigger the webhook and stamp last_updated_at.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if api.triggers.Load() > 0 {
			var stack model.Stack
			db.First(&stack, "name = ?", "due")
			if stack.LastUpdatedAt == nil {
				t.Fatal("webhook fired but last_updated_at was not stamped")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("poller never ran a sweep")
}

func TestPollerIgnoresDisabledStacks(t *testing.T) {
	svc, db, api := setupPollerTest(t, "poller-disabled")
	db.Create(&model.Stack{
		Name: "manual", WebhookURL: "https://p.example/hook/1", ImageStatus: "unknown",
	})

	p := New(svc, 10*time.Millisecond, slog.Default())
	p.Start()

	time.Sleep(100 * time.Millisecond)
	p.Stop()

	if n := api.triggers.Load(); n != 0 {
		t.Errorf("webhook fired %d times for a stack with auto-update disabled", n)
	}
	var stack model.Stack
	db.First(&stack, "name = ?", "manual")
	if stack.LastUpdatedAt != nil {
		t.Error("last_updated_at was stamped without an update")
	}
}

// blockingAPI holds every webhook call open until release is closed, keeping
// the sweep in flight across several ticker intervals.
type blockingAPI struct {
	calls   atomic.Int64
	release chan struct{}
}

func (b *blockingAPI) ListStacks(ctx context.Context) ([]portainer.RemoteStack, error) {
	return nil, nil
}

func (b *blockingAPI) ListWebhooks(ctx context.Context, stackID uint) ([]string, error) {
	return nil, nil
}

func (b *blockingAPI) GetImageStatus(ctx context.Context, stackID uint, refresh bool) (*portainer.Indicator, error) {
	return &portainer.Indicator{Status: "updated"}, nil
}

func (b *blockingAPI) TriggerWebhook(ctx context.Context, webhookURL string) error {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func TestPollerSweepsNeverOverlap(t *testing.T) {
	dsn := "file:poller-overlap?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&model.Stack{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	db.Create(&model.Stack{
		Name: "due", WebhookURL: "https://p.example/hook/1", ImageStatus: "unknown",
		AutoUpdateEnabled: true, AutoUpdateIntervalHours: 24,
	})

	api := &blockingAPI{release: make(chan struct{})}
	hub := realtime.NewHub(slog.Default())
	svc := service.NewStackService(db, api, hub, slog.Default())

	p := New(svc, 10*time.Millisecond, slog.Default())
	p.Start()

	// Wait for the first sweep to reach the webhook and park there.
	deadline := time.Now().Add(5 * time.Second)
	for api.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if api.calls.Load() == 0 {
		t.Fatal("poller never started a sweep")
	}

	// Many ticker intervals pass while the sweep is blocked; they must all be
	// skipped rather than starting a second sweep.
	time.Sleep(100 * time.Millisecond)
	if n := api.calls.Load(); n != 1 {
		t.Errorf("a second sweep started while one was in flight: %d webhook calls", n)
	}

	close(api.release)
	p.Stop()
}

func TestPollerStopIsIdempotent(t *testing.T) {
	svc, _, _ := setupPollerTest(t, "poller-stop")

	p := New(svc, time.Hour, slog.Default())

	// Stop before Start is a no-op.
	p.Stop()

	p.Start()
	p.Stop()
	p.Stop()
}
