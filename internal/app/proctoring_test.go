package app_test

import (
	"context"
	"errors"
	"testing"

	"study-session-engine/internal/app"
	"study-session-engine/internal/domain"
)

func TestScreenshotAllowList(t *testing.T) {
	cases := map[domain.ScreenshotSource]bool{
		domain.SourceContent:    false,
		domain.SourceWhiteboard: true,
		domain.SourceChat:       true,
		"desktop":               false,
	}
	for source, want := range cases {
		if got := app.ScreenshotAllowed(source); got != want {
			t.Fatalf("source %q: expected %v, got %v", source, want, got)
		}
	}
}

func TestProctoringEventsFeedCountersAndSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sessions := f.manager()
	monitor := app.NewProctoringMonitor(sessions, f.events, f.metrics)
	s, _ := sessions.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, "")

	rules, err := monitor.InitializeProctoring(ctx, s.ID)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !rules.ScreenshotBlocking || len(rules.AllowedScreenshotSources) != 2 {
		t.Fatalf("unexpected rules %+v", rules)
	}

	for _, typ := range []domain.ProctoringEventType{
		domain.EventTabSwitch, domain.EventTabSwitch,
		domain.EventFocusLost, domain.EventFocusGained,
		domain.EventCopyAttempt,
	} {
		if _, err := monitor.RecordEvent(ctx, s.ID, typ, nil); err != nil {
			t.Fatalf("record %s: %v", typ, err)
		}
	}
	decision, err := monitor.RecordScreenshotAttempt(ctx, s.ID, domain.SourceContent)
	if err != nil {
		t.Fatalf("screenshot: %v", err)
	}
	if decision.Allowed || decision.Message != "Screenshot blocked for content" {
		t.Fatalf("unexpected decision %+v", decision)
	}
	decision, _ = monitor.RecordScreenshotAttempt(ctx, s.ID, domain.SourceWhiteboard)
	if !decision.Allowed {
		t.Fatalf("whiteboard captures are allowed")
	}
	if _, err := monitor.HandleCameraPermission(ctx, s.ID, true); err != nil {
		t.Fatalf("camera: %v", err)
	}

	m, _ := f.metrics.Get(ctx, s.ID)
	if m.TabSwitches != 2 || m.FocusLosses != 2 {
		t.Fatalf("expected counters 2/2, got tab=%d focus=%d", m.TabSwitches, m.FocusLosses)
	}

	summary, err := monitor.GetViolationSummary(ctx, s.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	want := domain.ViolationSummary{
		TotalEvents:               8,
		TabSwitches:               2,
		CopyAttempts:              1,
		ScreenshotsBlocked:        1,
		ScreenshotsAllowed:        1,
		FocusLosses:               1,
		CameraEnabled:             true,
		CameraPermissionRequested: true,
	}
	if summary != want {
		t.Fatalf("unexpected summary\n got %+v\nwant %+v", summary, want)
	}
}

func TestProctoringRequiresKnownSession(t *testing.T) {
	f := newFixture()
	monitor := app.NewProctoringMonitor(f.manager(), f.events, f.metrics)
	_, err := monitor.RecordEvent(context.Background(), "missing", domain.EventTabSwitch, nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := domain.ParseProctoringEventType("keylogger"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFaceDetection(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sessions := f.manager()
	monitor := app.NewProctoringMonitor(sessions, f.events, f.metrics)
	s, _ := sessions.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, "")

	e, _ := monitor.RecordFaceDetection(ctx, s.ID, 0)
	if e.Type != domain.EventNoFaceDetected {
		t.Fatalf("expected no_face_detected, got %s", e.Type)
	}
	e, _ = monitor.RecordFaceDetection(ctx, s.ID, 2)
	if e.Type != domain.EventFaceDetected || string(e.Details) != `{"facesDetected":2}` {
		t.Fatalf("unexpected event %+v", e)
	}
}
