package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "lrsync.sqlite"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestActivityConfigRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.AddActivityConfig(ctx, ActivityConfig{
		Name:                "Intro module",
		CourseID:            7,
		ContentURL:          "http://content.example.com/intro",
		ActivityIRI:         "http://example.com/activities/intro",
		CompletionVerb:      "http://adlnet.gov/expapi/verbs/completed",
		Endpoint:            "https://lrs.example.com/xapi",
		AuthMode:            AuthBasic,
		Login:               "key",
		Password:            "secret",
		ExpiryDays:          30,
		GradeWeight:         100,
		EmailIdentification: true,
		OverrideDefaults:    true,
	})
	if err != nil {
		t.Fatalf("add config: %v", err)
	}

	cfg, err := db.GetActivityConfig(ctx, id)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.Name != "Intro module" || cfg.ExpiryDays != 30 || !cfg.EmailIdentification || cfg.MultipleRegistrations {
		t.Fatalf("round trip mismatch: %+v", cfg)
	}

	cfg.ExpiryDays = 0
	if err := db.UpdateActivityConfig(ctx, cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}
	cfg, err = db.GetActivityConfig(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ExpiryDays != 0 {
		t.Fatalf("update not persisted: %+v", cfg)
	}

	configs, err := db.ListActivityConfigs(ctx)
	if err != nil || len(configs) != 1 {
		t.Fatalf("expected one config, got %d (%v)", len(configs), err)
	}
}

func TestEnrollments(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a, _ := db.AddLearner(ctx, Learner{Username: "ann", Email: "ann@x.com"})
	b, _ := db.AddLearner(ctx, Learner{Username: "bob"})

	if err := db.EnrollLearner(ctx, 7, a); err != nil {
		t.Fatal(err)
	}
	// Double enrollment is a no-op.
	if err := db.EnrollLearner(ctx, 7, a); err != nil {
		t.Fatal(err)
	}
	if err := db.EnrollLearner(ctx, 8, b); err != nil {
		t.Fatal(err)
	}

	learners, err := db.ListEnrolledLearners(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(learners) != 1 || learners[0].Username != "ann" {
		t.Fatalf("unexpected roster: %+v", learners)
	}
}

func TestCompletionStateChangeLog(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	state, err := db.GetCompletionState(ctx, 1, 10)
	if err != nil || state != StateUnknown {
		t.Fatalf("expected unknown state, got %q (%v)", state, err)
	}

	if err := db.SetCompletionState(ctx, 1, 10, StateComplete); err != nil {
		t.Fatal(err)
	}
	state, _ = db.GetCompletionState(ctx, 1, 10)
	if state != StateComplete {
		t.Fatalf("expected complete, got %q", state)
	}

	// Writing the same state again should not log a change.
	if err := db.SetCompletionState(ctx, 1, 10, StateComplete); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCompletionState(ctx, 1, 10, StateIncomplete); err != nil {
		t.Fatal(err)
	}

	n, err := db.CountCompletionChanges(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 logged changes, got %d", n)
	}

	changes, err := db.ListCompletionChanges(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if changes[0].OldState != StateUnknown || changes[0].NewState != StateComplete {
		t.Fatalf("unexpected first change: %+v", changes[0])
	}
	if changes[1].OldState != StateComplete || changes[1].NewState != StateIncomplete {
		t.Fatalf("unexpected second change: %+v", changes[1])
	}
}

func TestGrades(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.PushGrades(ctx, 1, map[int64]float64{10: 80, 11: 90}); err != nil {
		t.Fatal(err)
	}
	if err := db.PushGrades(ctx, 1, map[int64]float64{10: 95}); err != nil {
		t.Fatal(err)
	}

	raw, ok, err := db.GetGrade(ctx, 1, 10)
	if err != nil || !ok || raw != 95 {
		t.Fatalf("expected updated grade 95, got %v %v %v", raw, ok, err)
	}
	if _, ok, _ := db.GetGrade(ctx, 1, 99); ok {
		t.Fatal("missing grade should report not found")
	}
}

func TestWatermarkMonotonic(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, ok, err := db.GetWatermark(ctx); ok || err != nil {
		t.Fatalf("expected no watermark on fresh db, got ok=%v err=%v", ok, err)
	}

	later := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	if err := db.SetWatermark(ctx, later); err != nil {
		t.Fatal(err)
	}
	// A backwards write is silently ignored.
	if err := db.SetWatermark(ctx, earlier); err != nil {
		t.Fatal(err)
	}

	got, ok, err := db.GetWatermark(ctx)
	if err != nil || !ok {
		t.Fatalf("get watermark: ok=%v err=%v", ok, err)
	}
	if !got.Equal(later) {
		t.Fatalf("watermark moved backwards: %v", got)
	}
}

func TestCredentialCache(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	if _, ok, err := db.GetCredential(ctx, 1); ok || err != nil {
		t.Fatalf("expected empty cache, got ok=%v err=%v", ok, err)
	}

	live := Credential{
		ActivityID: 1, Key: "k1", Secret: "s1",
		ExpiresAt: now.Add(time.Hour),
		Endpoint:  "https://lrs.example.com/xapi", Login: "l", Password: "p", AuthMode: AuthSession,
	}
	expired := live
	expired.ActivityID = 2
	expired.Key = "k2"
	expired.ExpiresAt = now.Add(-time.Hour)

	if err := db.PutCredential(ctx, live); err != nil {
		t.Fatal(err)
	}
	if err := db.PutCredential(ctx, expired); err != nil {
		t.Fatal(err)
	}

	got, ok, err := db.GetCredential(ctx, 1)
	if err != nil || !ok || got.Key != "k1" || !got.ExpiresAt.Equal(live.ExpiresAt) {
		t.Fatalf("unexpected credential: %+v ok=%v err=%v", got, ok, err)
	}

	stale, err := db.ListExpiredCredentials(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ActivityID != 2 {
		t.Fatalf("unexpected expired set: %+v", stale)
	}

	if err := db.DeleteCredential(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.GetCredential(ctx, 2); ok {
		t.Fatal("deleted credential still present")
	}
}
