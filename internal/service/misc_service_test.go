package service

import (
	"context"
	"reflect"
	"testing"
	"time"

	"companion-go/internal/model"
	"companion-go/pkg/events"
)

func TestMetricsService_Deterministic(t *testing.T) {
	fixed := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	svc := &metricsService{now: func() time.Time { return fixed }}

	a := svc.Dashboard("u1", 7)
	b := svc.Dashboard("u1", 7)
	if !reflect.DeepEqual(a, b) {
		t.Error("expected identical dashboards for the same user and day")
	}
	if len(a.BasalTemp) != 7 || len(a.SleepHours) != 7 || len(a.Steps) != 7 {
		t.Errorf("expected 7 points per series, got %d", len(a.BasalTemp))
	}
	if a.BasalTemp[6].Date != "2024-03-10" {
		t.Errorf("expected last point on 2024-03-10, got %s", a.BasalTemp[6].Date)
	}
	if a.CycleDay < 1 || a.CycleDay > a.CycleLength {
		t.Errorf("cycle day %d out of range 1..%d", a.CycleDay, a.CycleLength)
	}
	if len(a.FertileWindow) != 6 || !a.Mocked {
		t.Errorf("unexpected dashboard: %+v", a)
	}
	if got := svc.Dashboard("u1", 1000); len(got.Steps) != maxMetricDays {
		t.Errorf("expected days clamped to %d, got %d", maxMetricDays, len(got.Steps))
	}
}

func TestAdminService_ProcessDedup(t *testing.T) {
	repo := &fakeAuditRepo{}
	svc := NewAdminService(repo)
	ctx := context.Background()
	ev := events.AuthEvent{Seq: 3, Type: events.SignedIn, UserID: "u1", OccurredAt: time.Now()}

	if err := svc.Process(ctx, ev); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if err := svc.Process(ctx, ev); err != nil {
		t.Fatalf("second Process failed: %v", err)
	}
	logs, err := svc.ListAuditLogs(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListAuditLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].EventType != "SIGNED_IN" {
		t.Errorf("expected one SIGNED_IN entry, got %+v", logs)
	}
}

func TestCommunityService_AnonymousReadOnly(t *testing.T) {
	svc := NewCommunityService(nil, nil)
	anon := &model.User{ID: "a1", IsAnonymous: true}
	if _, err := svc.CreatePost(context.Background(), anon, "ivf", "t", "b"); err != ErrForbidden {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Reply(context.Background(), anon, 1, "b"); err != ErrForbidden {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestNormalizePage(t *testing.T) {
	if p, s := normalizePage(0, 0); p != 1 || s != defaultPageSize {
		t.Errorf("unexpected defaults %d/%d", p, s)
	}
	if _, s := normalizePage(2, 1000); s != maxPageSize {
		t.Errorf("expected size clamp, got %d", s)
	}
	page := newPage([]int{}, 41, 1, 20)
	if page.TotalPages != 3 {
		t.Errorf("expected 3 pages, got %d", page.TotalPages)
	}
}
