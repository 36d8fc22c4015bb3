package domain

import (
	"encoding/json"
	"time"
)

// ProctoringEventType is the closed integrity-event taxonomy.
type ProctoringEventType string

const (
	EventTabSwitch         ProctoringEventType = "tab_switch"
	EventCopyAttempt       ProctoringEventType = "copy_attempt"
	EventPasteAttempt      ProctoringEventType = "paste_attempt"
	EventScreenshotBlocked ProctoringEventType = "screenshot_blocked"
	EventScreenshotAllowed ProctoringEventType = "screenshot_allowed"
	EventCameraEnabled     ProctoringEventType = "camera_enabled"
	EventCameraDisabled    ProctoringEventType = "camera_disabled"
	EventFocusLost         ProctoringEventType = "focus_lost"
	EventFocusGained       ProctoringEventType = "focus_gained"
	EventFaceDetected      ProctoringEventType = "face_detected"
	EventNoFaceDetected    ProctoringEventType = "no_face_detected"
)

var proctoringEventTypes = map[ProctoringEventType]struct{}{
	EventTabSwitch: {}, EventCopyAttempt: {}, EventPasteAttempt: {},
	EventScreenshotBlocked: {}, EventScreenshotAllowed: {},
	EventCameraEnabled: {}, EventCameraDisabled: {},
	EventFocusLost: {}, EventFocusGained: {},
	EventFaceDetected: {}, EventNoFaceDetected: {},
}

// ParseProctoringEventType rejects labels outside the taxonomy.
func ParseProctoringEventType(raw string) (ProctoringEventType, error) {
	t := ProctoringEventType(raw)
	if _, ok := proctoringEventTypes[t]; !ok {
		return "", ErrInvalidEventType
	}
	return t, nil
}

// CounterField returns the engagement counter this event bumps, if any.
// Both focus transitions count as a focus loss.
func (t ProctoringEventType) CounterField() (string, bool) {
	switch t {
	case EventTabSwitch:
		return CounterTabSwitches, true
	case EventFocusLost, EventFocusGained:
		return CounterFocusLosses, true
	}
	return "", false
}

// ProctoringEvent is an append-only log row.
type ProctoringEvent struct {
	ID        int64               `json:"id"`
	SessionID string              `json:"sessionId"`
	Type      ProctoringEventType `json:"eventType"`
	Timestamp time.Time           `json:"timestamp"`
	Details   json.RawMessage     `json:"details,omitempty"`
}

// ScreenshotSource identifies where a capture was attempted.
type ScreenshotSource string

const (
	SourceContent    ScreenshotSource = "content"
	SourceWhiteboard ScreenshotSource = "whiteboard"
	SourceChat       ScreenshotSource = "chat"
)

// ScreenshotDecision is the allow-list outcome.
type ScreenshotDecision struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message"`
}

// ProctoringRules is returned when proctoring is initialized for a session.
type ProctoringRules struct {
	SessionID                string             `json:"sessionId"`
	TabSwitchDetection       bool               `json:"tabSwitchDetection"`
	CopyPasteBlocking        bool               `json:"copyPasteBlocking"`
	ScreenshotBlocking       bool               `json:"screenshotBlocking"`
	CameraMonitoring         bool               `json:"cameraMonitoring"`
	AllowedScreenshotSources []ScreenshotSource `json:"allowedScreenshotSources"`
}

// ViolationSummary is the fixed report shape of proctoring counts.
type ViolationSummary struct {
	TotalEvents               int  `json:"totalEvents"`
	TabSwitches               int  `json:"tabSwitches"`
	CopyAttempts              int  `json:"copyAttempts"`
	PasteAttempts             int  `json:"pasteAttempts"`
	ScreenshotsBlocked        int  `json:"screenshotsBlocked"`
	ScreenshotsAllowed        int  `json:"screenshotsAllowed"`
	FocusLosses               int  `json:"focusLosses"`
	CameraEnabled             bool `json:"cameraEnabled"`
	CameraPermissionRequested bool `json:"cameraPermissionRequested"`
}
