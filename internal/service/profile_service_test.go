package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"companion-go/internal/model"
)

func TestProfileService_Ownership(t *testing.T) {
	svc := NewProfileService(newFakeProfileRepo())
	ctx := context.Background()
	caller := &model.User{ID: "u1"}

	if _, err := svc.Get(ctx, caller, "u2"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Get(ctx, caller, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing row, got %v", err)
	}
	if _, err := svc.Upsert(ctx, caller, "u1", &model.UserProfile{ID: "u2"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for body id mismatch, got %v", err)
	}
}

func TestProfileService_UpsertIdempotent(t *testing.T) {
	repo := newFakeProfileRepo()
	svc := NewProfileService(repo)
	ctx := context.Background()
	caller := &model.User{ID: "u1"}

	tz := time.FixedZone("UTC+14", 14*3600)
	bd := model.NewDate(time.Date(1990, 5, 1, 0, 30, 0, 0, tz))
	in := func() *model.UserProfile {
		return &model.UserProfile{Name: " Ada ", Birthdate: &bd, Gender: "Female", GenderDetail: "ignored", Goals: model.StringList{"sleep", "sleep", ""}}
	}

	first, err := svc.Upsert(ctx, caller, "u1", in())
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	second, err := svc.Upsert(ctx, caller, "u1", in())
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if !first.SameVisibleFields(second) {
		t.Errorf("expected identical profiles, got %+v and %+v", first, second)
	}
	if first.Name != "Ada" || first.Gender != "female" || first.GenderDetail != "" || len(first.Goals) != 1 {
		t.Errorf("expected normalized profile, got %+v", first)
	}
	if first.Birthdate.String() != "1990-05-01" {
		t.Errorf("expected birthdate 1990-05-01, got %s", first.Birthdate)
	}
}

func TestProfileService_Patch(t *testing.T) {
	repo := newFakeProfileRepo()
	svc := NewProfileService(repo)
	ctx := context.Background()
	caller := &model.User{ID: "u1"}

	yes := true
	if _, err := svc.Patch(ctx, caller, "u1", ProfilePatch{HasSeenWelcome: &yes}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before profile exists, got %v", err)
	}

	if _, err := svc.Upsert(ctx, caller, "u1", &model.UserProfile{Name: "Ada", OnboardingCompleted: true}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	got, err := svc.Patch(ctx, caller, "u1", ProfilePatch{HasSeenWelcome: &yes})
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if !got.HasSeenWelcome || got.Name != "Ada" || !got.OnboardingCompleted {
		t.Errorf("expected only has_seen_welcome to change, got %+v", got)
	}

	if _, err := svc.Patch(ctx, caller, "u1", ProfilePatch{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty patch, got %v", err)
	}
}
