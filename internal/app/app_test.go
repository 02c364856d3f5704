package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/networth-tracker/internal/config"
	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/jobs"
	"github.com/dvloznov/networth-tracker/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const feed = `{
  "accounts": [
    {"accountId": "acc-1", "ownerId": "user-1", "name": "Current", "currency": "GBP", "providerStatus": "LN"},
    {"accountId": "acc-2", "ownerId": "user-1", "name": "Savings", "currency": "GBP", "providerStatus": "LN"}
  ],
  "transactions": [
    {"accountId": "acc-1", "transactionId": "t1", "amount": "100", "currency": "GBP", "bookingDate": "2024-03-01T10:00:00Z"},
    {"accountId": "acc-1", "transactionId": "t2", "amount": "-40", "currency": "GBP", "bookingDate": "2024-03-03T10:00:00Z"},
    {"accountId": "acc-2", "transactionId": "s1", "amount": "500", "currency": "GBP", "bookingDate": "2024-03-02T00:00:00Z"}
  ]
}`

func memoryConfig() config.Config {
	return config.Config{
		Store:  config.StoreConfig{Driver: config.StoreMemory},
		Queue:  config.QueueConfig{Driver: config.QueueMemory, WorkerCount: 2, BufferSize: 10},
		Recalc: config.RecalcConfig{BatchSize: 2},
	}
}

func waitForJobs(t *testing.T, store jobs.JobStore, n int) []*jobs.RecalculateBalanceJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		list, err := store.ListJobs(context.Background(), jobs.JobFilter{Status: jobs.JobStatusCompleted})
		if err != nil {
			t.Fatalf("ListJobs failed: %v", err)
		}
		if len(list) == n {
			return list
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d completed jobs", n)
	return nil
}

func TestApp_IngestThenRecalculateThroughQueue(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	publisher, consumer := a.Publisher(), a.Consumer()
	if publisher != consumer.(jobs.Publisher) {
		t.Fatal("memory driver should share one queue for publishing and consuming")
	}
	if err := consumer.Start(ctx, a.Handler()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer consumer.Stop(ctx)

	path := filepath.Join(t.TempDir(), "feed.json")
	if err := os.WriteFile(path, []byte(feed), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := a.IngestPipeline(ctx, publisher, false)
	if err != nil {
		t.Fatalf("IngestPipeline failed: %v", err)
	}
	res, err := pipeline.IngestFeed(ctx, p, path)
	if err != nil {
		t.Fatalf("IngestFeed failed: %v", err)
	}
	if len(res.EnqueuedJobs) != 2 {
		t.Fatalf("expected 2 enqueued jobs, got %v", res.EnqueuedJobs)
	}

	waitForJobs(t, a.Jobs, 2)

	for _, id := range []string{"acc-1", "acc-2"} {
		acc, err := a.Store.GetAccount(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if acc.Status != domain.LinkStatusLinked {
			t.Errorf("%s status = %s, want linked after the pass", id, acc.Status)
		}
	}

	history, err := a.History.ComputeHistory(ctx, "user-1")
	if err != nil {
		t.Fatalf("ComputeHistory failed: %v", err)
	}
	if history.Status != domain.CalculationStatusCalculated {
		t.Errorf("status = %s", history.Status)
	}
	want := []string{"100", "600", "560"}
	if len(history.Points) != len(want) {
		t.Fatalf("points = %+v", history.Points)
	}
	for i, w := range want {
		if !history.Points[i].Amount.Equal(decimal.RequireFromString(w)) {
			t.Errorf("point %d = %s, want %s", i, history.Points[i].Amount, w)
		}
	}
}

func TestApp_StoreDriverDefaultsToMemory(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Driver = ""

	a, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if a.Store == nil || a.Service == nil || a.History == nil || a.Jobs == nil {
		t.Errorf("components not wired: %+v", a)
	}
}
