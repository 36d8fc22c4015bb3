package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"study-session-engine/internal/domain"
	"study-session-engine/internal/metrics"
)

// allowedScreenshotSources is a fixed policy, not configurable per session.
var allowedScreenshotSources = []domain.ScreenshotSource{domain.SourceWhiteboard, domain.SourceChat}

// ScreenshotAllowed reports whether a capture from source is permitted.
func ScreenshotAllowed(source domain.ScreenshotSource) bool {
	for _, s := range allowedScreenshotSources {
		if s == source {
			return true
		}
	}
	return false
}

// ProctoringMonitor records integrity events and enforces the screenshot allow-list.
type ProctoringMonitor struct {
	sessions *SessionManager
	events   ProctoringLog
	metrics  MetricsRepository
	now      func() time.Time
}

func NewProctoringMonitor(sessions *SessionManager, events ProctoringLog, metricsRepo MetricsRepository) *ProctoringMonitor {
	return &ProctoringMonitor{sessions: sessions, events: events, metrics: metricsRepo, now: sessions.now}
}

// InitializeProctoring returns the rules the client must enforce for the session.
func (p *ProctoringMonitor) InitializeProctoring(ctx context.Context, sessionID string) (domain.ProctoringRules, error) {
	if _, err := p.sessions.GetSession(ctx, sessionID); err != nil {
		return domain.ProctoringRules{}, err
	}
	return domain.ProctoringRules{
		SessionID:                sessionID,
		TabSwitchDetection:       true,
		CopyPasteBlocking:        true,
		ScreenshotBlocking:       true,
		CameraMonitoring:         false,
		AllowedScreenshotSources: append([]domain.ScreenshotSource(nil), allowedScreenshotSources...),
	}, nil
}

// RecordEvent appends an event and bumps the engagement counter it maps to.
func (p *ProctoringMonitor) RecordEvent(ctx context.Context, sessionID string, eventType domain.ProctoringEventType, details any) (domain.ProctoringEvent, error) {
	if _, err := p.sessions.GetSession(ctx, sessionID); err != nil {
		return domain.ProctoringEvent{}, err
	}
	var raw json.RawMessage
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return domain.ProctoringEvent{}, fmt.Errorf("%w: details: %v", domain.ErrValidation, err)
		}
		raw = b
	}

	event, err := p.events.Append(ctx, domain.ProctoringEvent{
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: p.now(),
		Details:   raw,
	})
	if err != nil {
		return domain.ProctoringEvent{}, fmt.Errorf("append proctoring event: %w", err)
	}
	metrics.ProctoringEvents.WithLabelValues(string(eventType)).Inc()

	if field, ok := eventType.CounterField(); ok {
		if err := p.metrics.Incr(ctx, sessionID, MetricsDelta{Counters: map[string]int{field: 1}}); err != nil {
			return event, fmt.Errorf("increment %s: %w", field, err)
		}
	}
	return event, nil
}

// RecordScreenshotAttempt applies the allow-list and logs the decision.
func (p *ProctoringMonitor) RecordScreenshotAttempt(ctx context.Context, sessionID string, source domain.ScreenshotSource) (domain.ScreenshotDecision, error) {
	allowed := ScreenshotAllowed(source)
	eventType := domain.EventScreenshotBlocked
	verdict := "blocked"
	if allowed {
		eventType = domain.EventScreenshotAllowed
		verdict = "allowed"
	}
	if _, err := p.RecordEvent(ctx, sessionID, eventType, map[string]string{"source": string(source)}); err != nil {
		return domain.ScreenshotDecision{}, err
	}
	return domain.ScreenshotDecision{
		Allowed: allowed,
		Message: fmt.Sprintf("Screenshot %s for %s", verdict, source),
	}, nil
}

// RequestCameraPermission is the first phase of the camera flow.
func (p *ProctoringMonitor) RequestCameraPermission(ctx context.Context, sessionID string) (domain.StudySession, error) {
	return p.sessions.RequestCameraPermission(ctx, sessionID)
}

// HandleCameraPermission applies the learner's grant or denial.
func (p *ProctoringMonitor) HandleCameraPermission(ctx context.Context, sessionID string, granted bool) (domain.StudySession, error) {
	session, err := p.sessions.UpdateCameraStatus(ctx, sessionID, granted)
	if err != nil {
		return domain.StudySession{}, err
	}
	eventType := domain.EventCameraDisabled
	if granted {
		eventType = domain.EventCameraEnabled
	}
	if _, err := p.RecordEvent(ctx, sessionID, eventType, map[string]bool{"enabled": granted}); err != nil {
		return domain.StudySession{}, err
	}
	return session, nil
}

// RecordFaceDetection maps a face count to face_detected or no_face_detected.
func (p *ProctoringMonitor) RecordFaceDetection(ctx context.Context, sessionID string, faces int) (domain.ProctoringEvent, error) {
	eventType := domain.EventNoFaceDetected
	if faces > 0 {
		eventType = domain.EventFaceDetected
	}
	return p.RecordEvent(ctx, sessionID, eventType, map[string]int{"facesDetected": faces})
}

// GetViolationSummary aggregates the session's event log into the report shape.
func (p *ProctoringMonitor) GetViolationSummary(ctx context.Context, sessionID string) (domain.ViolationSummary, error) {
	session, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.ViolationSummary{}, err
	}
	counts, err := p.events.CountByType(ctx, sessionID)
	if err != nil {
		return domain.ViolationSummary{}, fmt.Errorf("count proctoring events: %w", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return domain.ViolationSummary{
		TotalEvents:               total,
		TabSwitches:               counts[domain.EventTabSwitch],
		CopyAttempts:              counts[domain.EventCopyAttempt],
		PasteAttempts:             counts[domain.EventPasteAttempt],
		ScreenshotsBlocked:        counts[domain.EventScreenshotBlocked],
		ScreenshotsAllowed:        counts[domain.EventScreenshotAllowed],
		FocusLosses:               counts[domain.EventFocusLost],
		CameraEnabled:             session.CameraEnabled,
		CameraPermissionRequested: session.CameraPermissionRequested,
	}, nil
}
