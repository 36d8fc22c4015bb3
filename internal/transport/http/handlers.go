package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"study-session-engine/internal/app"
	"study-session-engine/internal/domain"
)

// Handler serves the REST surface of the engine.
type Handler struct {
	engine *app.Engine
	log    *zap.Logger
}

func NewHandler(engine *app.Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{engine: engine, log: log}
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", msg)
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string             `json:"userId"`
		ContentID   string             `json:"contentId"`
		SessionType domain.SessionType `json:"sessionType"`
		Label       string             `json:"label"`
	}
	if err := decode(r, &req); err != nil {
		h.badRequest(w, r, "Invalid request body")
		return
	}
	if req.SessionType == "" {
		req.SessionType = domain.SessionRecommended
	}
	created, err := h.engine.CreateSession(r.Context(), learnerID(r, req.UserID), req.ContentID, req.SessionType, req.Label)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Sessions.GetSessionStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) StartBreak(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.Sessions.StartBreak(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (h *Handler) EndBreak(w http.ResponseWriter, r *http.Request) {
	session, summary, err := h.engine.EndBreak(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":   session,
		"completed": summary != nil,
		"summary":   summary,
	})
}

func (h *Handler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.CompleteSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) CameraPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil || req.Enabled == nil {
		h.badRequest(w, r, "enabled is required")
		return
	}
	session, err := h.engine.Proctoring.HandleCameraPermission(r.Context(), chi.URLParam(r, "id"), *req.Enabled)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (h *Handler) RequestCamera(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.Proctoring.RequestCameraPermission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

type proctoringRequest struct {
	EventType string      `json:"eventType"`
	Details   interface{} `json:"details"`
	Faces     *int        `json:"facesDetected"`
}

// recordProctoring treats a face count as a detection result, anything
// else as a labelled event.
func recordProctoring(ctx context.Context, engine *app.Engine, sessionID string, req proctoringRequest) (domain.ProctoringEvent, error) {
	if req.Faces != nil {
		return engine.Proctoring.RecordFaceDetection(ctx, sessionID, *req.Faces)
	}
	eventType, err := domain.ParseProctoringEventType(req.EventType)
	if err != nil {
		return domain.ProctoringEvent{}, err
	}
	return engine.Proctoring.RecordEvent(ctx, sessionID, eventType, req.Details)
}

func (h *Handler) RecordProctoring(w http.ResponseWriter, r *http.Request) {
	var req proctoringRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, r, "Invalid request body")
		return
	}
	event, err := recordProctoring(r.Context(), h.engine, chi.URLParam(r, "id"), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (h *Handler) Screenshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source domain.ScreenshotSource `json:"source"`
	}
	if err := decode(r, &req); err != nil || req.Source == "" {
		h.badRequest(w, r, "source is required")
		return
	}
	decision, err := h.engine.Proctoring.RecordScreenshotAttempt(r.Context(), chi.URLParam(r, "id"), req.Source)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) Violations(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Proctoring.GetViolationSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) RecordEngagement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventType string `json:"eventType"`
	}
	if err := decode(r, &req); err != nil {
		h.badRequest(w, r, "Invalid request body")
		return
	}
	if err := h.engine.Engagement.RecordEvent(r.Context(), chi.URLParam(r, "id"), req.EventType); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Engagement(w http.ResponseWriter, r *http.Request) {
	agg, err := h.engine.Engagement.AggregateMetrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (h *Handler) GenerateTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Difficulty int `json:"difficulty"`
	}
	if err := decode(r, &req); err != nil {
		h.badRequest(w, r, "Invalid request body")
		return
	}
	test, err := h.engine.GenerateTest(r.Context(), chi.URLParam(r, "id"), req.Difficulty)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, test)
}

func (h *Handler) GetTest(w http.ResponseWriter, r *http.Request) {
	test, err := h.engine.GetTest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, test)
}

func (h *Handler) StartTest(w http.ResponseWriter, r *http.Request) {
	test, err := h.engine.StartTest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, test)
}

func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QuestionID string `json:"questionId"`
		UserID     string `json:"userId"`
		domain.AnswerPayload
	}
	if err := decode(r, &req); err != nil {
		h.badRequest(w, r, "Invalid request body")
		return
	}
	if req.QuestionID == "" {
		h.badRequest(w, r, "questionId is required")
		return
	}
	sub, err := h.engine.SubmitAnswer(r.Context(), chi.URLParam(r, "id"), req.QuestionID, learnerID(r, req.UserID), req.AnswerPayload)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) CompleteTest(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.CompleteTest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) WeakPoints(w http.ResponseWriter, r *http.Request) {
	points, err := h.engine.GetWeakPoints(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"weakPoints": points})
}

func (h *Handler) PredictDifficulty(w http.ResponseWriter, r *http.Request) {
	var features domain.DifficultyFeatures
	if err := decode(r, &features); err != nil {
		h.badRequest(w, r, "Invalid request body")
		return
	}
	if features.CurrentDifficulty == 0 {
		features.CurrentDifficulty = domain.MinDifficulty
	}
	next := h.engine.Predictor.PredictNextDifficulty(features)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nextDifficulty": next,
		"questionCount":  app.GetQuestionCount(next),
		"strategy":       h.engine.Predictor.Strategy(),
	})
}
