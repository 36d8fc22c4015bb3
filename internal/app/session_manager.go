package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"study-session-engine/internal/domain"
)

const (
	reminder70Seconds = 70 * 60
	reminder90Seconds = 90 * 60

	// TestAvailabilityWindow is how long after creation a session's test may be built.
	TestAvailabilityWindow = 6 * time.Hour
)

var sessionProfiles = map[domain.SessionType]domain.SessionConfig{
	domain.SessionRecommended: {StudyTimeSeconds: 7200, BreakTimeSeconds: 1200, BreakFlexible: true},
	domain.SessionStandard:    {StudyTimeSeconds: 3000, BreakTimeSeconds: 600, BreakFlexible: false},
	// custom has no configurable profile yet and borrows the standard numbers
	domain.SessionCustom: {StudyTimeSeconds: 3000, BreakTimeSeconds: 600, BreakFlexible: false},
}

// GetConfig returns the timing profile for a session type.
func GetConfig(t domain.SessionType) domain.SessionConfig {
	if cfg, ok := sessionProfiles[t]; ok {
		return cfg
	}
	return sessionProfiles[domain.SessionStandard]
}

// ElapsedStudySeconds is wall-clock time since start minus break time: the
// open break's running time if one is open, else the accumulated break
// duration. Completed sessions report their frozen duration.
func ElapsedStudySeconds(s domain.StudySession, now time.Time) int {
	if s.IsCompleted {
		return s.StudyDurationSeconds
	}
	total := now.Sub(s.StartedAt)
	var elapsed time.Duration
	if s.BreakOpen() {
		elapsed = total - now.Sub(*s.BreakStartedAt)
	} else {
		elapsed = total - time.Duration(s.BreakDurationSeconds)*time.Second
	}
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / time.Second)
}

// SessionManager owns the study session timing state machine.
type SessionManager struct {
	sessions SessionRepository
	metrics  MetricsRepository
	now      func() time.Time
}

func NewSessionManager(sessions SessionRepository, metrics MetricsRepository) *SessionManager {
	return NewSessionManagerWithClock(sessions, metrics, time.Now)
}

// NewSessionManagerWithClock allows deterministic timing in tests.
func NewSessionManagerWithClock(sessions SessionRepository, metrics MetricsRepository, now func() time.Time) *SessionManager {
	return &SessionManager{sessions: sessions, metrics: metrics, now: now}
}

// CreateSession starts an active session and its empty engagement record.
func (m *SessionManager) CreateSession(ctx context.Context, userID, contentID string, sessionType domain.SessionType, label string) (domain.StudySession, error) {
	if sessionType == "" {
		sessionType = domain.SessionRecommended
	}
	if !sessionType.Valid() {
		return domain.StudySession{}, domain.ErrInvalidSessionType
	}
	if label == "" {
		label = "My Study Session"
	}

	now := m.now()
	session := domain.StudySession{
		ID:                 uuid.NewString(),
		UserID:             userID,
		ContentID:          contentID,
		Label:              label,
		SessionType:        sessionType,
		StartedAt:          now,
		IsActive:           true,
		TestAvailableUntil: now.Add(TestAvailabilityWindow),
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return domain.StudySession{}, fmt.Errorf("create session: %w", err)
	}
	if err := m.metrics.Init(ctx, session.ID); err != nil {
		return domain.StudySession{}, fmt.Errorf("init metrics: %w", err)
	}
	return session, nil
}

// GetSession loads a session by id.
func (m *SessionManager) GetSession(ctx context.Context, id string) (domain.StudySession, error) {
	return m.sessions.Get(ctx, id)
}

// StartBreak opens the session's single break.
func (m *SessionManager) StartBreak(ctx context.Context, id string) (domain.StudySession, error) {
	return m.sessions.Update(ctx, id, func(s *domain.StudySession) error {
		if !s.IsActive || s.IsCompleted {
			return domain.ErrSessionInactive
		}
		if s.BreakUsed {
			return domain.ErrBreakAlreadyUsed
		}
		now := m.now()
		s.BreakStartedAt = &now
		s.BreakUsed = true
		return nil
	})
}

// EndBreak closes the open break. When the study quota is already reached
// the session is completed and completed is true.
func (m *SessionManager) EndBreak(ctx context.Context, id string) (session domain.StudySession, completed bool, err error) {
	session, err = m.sessions.Update(ctx, id, func(s *domain.StudySession) error {
		if !s.IsActive || s.IsCompleted {
			return domain.ErrSessionInactive
		}
		if !s.BreakOpen() {
			return domain.ErrBreakNotStarted
		}
		now := m.now()
		s.BreakDurationSeconds = int(now.Sub(*s.BreakStartedAt) / time.Second)
		s.BreakEndedAt = &now
		return nil
	})
	if err != nil {
		return domain.StudySession{}, false, err
	}

	if ElapsedStudySeconds(session, m.now()) >= GetConfig(session.SessionType).StudyTimeSeconds {
		session, err = m.CompleteSession(ctx, id)
		if err != nil {
			return domain.StudySession{}, false, err
		}
		return session, true, nil
	}
	return session, false, nil
}

// CheckReminderTrigger marks and returns the next unseen reminder. Only
// recommended sessions without a break get reminders.
func CheckReminderTrigger(s *domain.StudySession, now time.Time) *domain.Reminder {
	if s.SessionType != domain.SessionRecommended || s.BreakUsed {
		return nil
	}
	elapsed := ElapsedStudySeconds(*s, now)
	if elapsed >= reminder70Seconds && !s.Reminder70Shown {
		s.Reminder70Shown = true
		return &domain.Reminder{AtMinutes: 70, Message: "You've been studying for 70 minutes. Consider taking a break soon."}
	}
	if elapsed >= reminder90Seconds && !s.Reminder90Shown {
		s.Reminder90Shown = true
		return &domain.Reminder{AtMinutes: 90, Message: "You've been studying for 90 minutes. A break is recommended."}
	}
	return nil
}

// GetSessionStatus recomputes timing, fires reminders and flags an unused
// recommended break as expired once the study quota is reached.
func (m *SessionManager) GetSessionStatus(ctx context.Context, id string) (domain.SessionStatus, error) {
	var reminder *domain.Reminder
	session, err := m.sessions.Update(ctx, id, func(s *domain.StudySession) error {
		if s.IsCompleted {
			return nil
		}
		now := m.now()
		cfg := GetConfig(s.SessionType)
		if s.IsActive && ElapsedStudySeconds(*s, now) >= cfg.StudyTimeSeconds &&
			!s.BreakUsed && s.SessionType == domain.SessionRecommended {
			s.BreakExpired = true
		}
		reminder = CheckReminderTrigger(s, now)
		return nil
	})
	if err != nil {
		return domain.SessionStatus{}, err
	}

	cfg := GetConfig(session.SessionType)
	elapsed := ElapsedStudySeconds(session, m.now())
	remaining := cfg.StudyTimeSeconds - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return domain.SessionStatus{
		SessionID:        session.ID,
		IsActive:         session.IsActive,
		IsCompleted:      session.IsCompleted,
		OnBreak:          session.BreakOpen(),
		ElapsedSeconds:   elapsed,
		RemainingSeconds: remaining,
		StudyTimeSeconds: cfg.StudyTimeSeconds,
		BreakUsed:        session.BreakUsed,
		BreakExpired:     session.BreakExpired,
		Reminder:         reminder,
		BreakStartedAt:   session.BreakStartedAt,
	}, nil
}

// CompleteSession deactivates the session and freezes its study duration.
func (m *SessionManager) CompleteSession(ctx context.Context, id string) (domain.StudySession, error) {
	return m.sessions.Update(ctx, id, func(s *domain.StudySession) error {
		if s.IsCompleted {
			return domain.ErrSessionCompleted
		}
		now := m.now()
		if s.BreakOpen() {
			s.BreakDurationSeconds = int(now.Sub(*s.BreakStartedAt) / time.Second)
			s.BreakEndedAt = &now
		}
		s.StudyDurationSeconds = ElapsedStudySeconds(*s, now)
		s.IsActive = false
		s.IsCompleted = true
		s.EndedAt = &now
		if !s.BreakUsed && s.SessionType == domain.SessionRecommended {
			s.BreakExpired = true
		}
		return nil
	})
}

// UpdateCameraStatus sets the camera flag and records that permission was requested.
func (m *SessionManager) UpdateCameraStatus(ctx context.Context, id string, enabled bool) (domain.StudySession, error) {
	return m.sessions.Update(ctx, id, func(s *domain.StudySession) error {
		if s.IsCompleted {
			return domain.ErrSessionCompleted
		}
		s.CameraEnabled = enabled
		s.CameraPermissionRequested = true
		return nil
	})
}

// RequestCameraPermission flags that the client asked for camera access.
func (m *SessionManager) RequestCameraPermission(ctx context.Context, id string) (domain.StudySession, error) {
	return m.sessions.Update(ctx, id, func(s *domain.StudySession) error {
		if s.IsCompleted {
			return domain.ErrSessionCompleted
		}
		s.CameraPermissionRequested = true
		return nil
	})
}
