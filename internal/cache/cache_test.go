package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	if err := cache.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestCache_StatsRoundTrip(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	stats := models.SessionStats{
		TotalViewers:    7,
		PeakViewers:     4,
		TotalViewTimeMS: 125000,
		Bandwidth:       1_500_000,
	}

	if err := cache.RecordStats(ctx, "stream_cam1_1_abc", stats); err != nil {
		t.Fatalf("RecordStats failed: %v", err)
	}

	got, err := cache.GetStats(ctx, "stream_cam1_1_abc")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected stats, got nil")
	}
	if got.TotalViewers != stats.TotalViewers || got.PeakViewers != stats.PeakViewers {
		t.Errorf("Stats mismatch: got %+v, want %+v", got, stats)
	}
}

func TestCache_StatsMiss(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	got, err := cache.GetStats(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil on miss, got %+v", got)
	}
}

func TestCache_Bandwidth(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	if err := cache.RecordBandwidth(ctx, "s1", 2_000_000); err != nil {
		t.Fatalf("RecordBandwidth failed: %v", err)
	}

	bw, err := cache.GetBandwidth(ctx, "s1")
	if err != nil {
		t.Fatalf("GetBandwidth failed: %v", err)
	}
	if bw != 2_000_000 {
		t.Errorf("Expected 2000000, got %f", bw)
	}

	// Miss returns zero, not an error.
	bw, err = cache.GetBandwidth(ctx, "missing")
	if err != nil || bw != 0 {
		t.Errorf("Expected (0, nil) on miss, got (%f, %v)", bw, err)
	}
}

func TestCache_HealthRoundTrip(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	health := models.SessionHealth{
		SessionKey: "s1",
		Status:     models.SessionStatusActive,
		Score:      85,
	}

	if err := cache.SetHealth(ctx, health); err != nil {
		t.Fatalf("SetHealth failed: %v", err)
	}

	got, err := cache.GetHealth(ctx, "s1")
	if err != nil {
		t.Fatalf("GetHealth failed: %v", err)
	}
	if got == nil || got.Score != 85 || got.Status != models.SessionStatusActive {
		t.Errorf("Health mismatch: got %+v", got)
	}
}

func TestCache_HealthExpires(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	if err := cache.SetHealth(ctx, models.SessionHealth{SessionKey: "s1", Score: 50}); err != nil {
		t.Fatalf("SetHealth failed: %v", err)
	}

	mr.FastForward(healthTTL * 2)

	got, err := cache.GetHealth(ctx, "s1")
	if err != nil {
		t.Fatalf("GetHealth failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected expired snapshot to miss, got %+v", got)
	}
}

func TestCache_DeleteSession(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	cache.RecordStats(ctx, "s1", models.SessionStats{TotalViewers: 1})
	cache.RecordBandwidth(ctx, "s1", 100)
	cache.SetHealth(ctx, models.SessionHealth{SessionKey: "s1"})

	if err := cache.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	stats, _ := cache.GetStats(ctx, "s1")
	if stats != nil {
		t.Error("Stats should be gone after delete")
	}
	health, _ := cache.GetHealth(ctx, "s1")
	if health != nil {
		t.Error("Health should be gone after delete")
	}
}
