package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/streakforge/streakforge/internal/app/engagement"
	"github.com/streakforge/streakforge/internal/domain"
)

// actionRequest is the wire form of a completed action. Kind selects which
// of the remaining fields apply. A focus completion names only the session;
// its timing is read from the row written by POST /focus-sessions.
type actionRequest struct {
	Kind domain.SourceType `json:"kind"`

	TaskID       string `json:"task_id,omitempty"`
	HighPriority bool   `json:"high_priority,omitempty"`

	HabitID        string `json:"habit_id,omitempty"`
	CompletedToday int    `json:"completed_today,omitempty"`
	ScheduledToday int    `json:"scheduled_today,omitempty"`

	SessionID string `json:"session_id,omitempty"`

	ReferredUserID string `json:"referred_user_id,omitempty"`
}

// focusStartRequest opens a focus session. The start time is the server's.
type focusStartRequest struct {
	SessionID      string `json:"session_id"`
	PlannedMinutes int    `json:"planned_minutes"`
}

// toAction converts the wire form into a domain action.
func (a actionRequest) toAction() (domain.Action, error) {
	switch a.Kind {
	case domain.SourceTask:
		return domain.TaskCompleted{TaskID: a.TaskID, HighPriority: a.HighPriority}, nil
	case domain.SourceHabit:
		return domain.HabitCompleted{
			HabitID:        a.HabitID,
			CompletedToday: a.CompletedToday,
			ScheduledToday: a.ScheduledToday,
		}, nil
	case domain.SourceFocus:
		return domain.FocusCompleted{SessionID: a.SessionID}, nil
	case domain.SourceReferral:
		return domain.ReferralCompleted{ReferredUserID: a.ReferredUserID}, nil
	default:
		return nil, domain.Invalid("kind", "must be task, habit, focus or referral")
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Profile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	entries, err := s.engine.History(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleAward(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	action, err := req.toAction()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	res, err := s.engine.Award(r.Context(), engagement.AwardRequest{
		UserID: chi.URLParam(r, "userID"),
		Action: action,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed || res.BelowThreshold {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) handleStartFocus(w http.ResponseWriter, r *http.Request) {
	var req focusStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	session, err := s.engine.StartFocus(r.Context(), engagement.FocusStartRequest{
		UserID:         chi.URLParam(r, "userID"),
		SessionID:      req.SessionID,
		PlannedMinutes: req.PlannedMinutes,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Undo(r.Context(), engagement.UndoRequest{
		UserID:   chi.URLParam(r, "userID"),
		Kind:     domain.SourceType(chi.URLParam(r, "kind")),
		SourceID: chi.URLParam(r, "sourceID"),
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.Achievements(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	unlocked := 0
	for _, a := range list {
		if a.Unlocked {
			unlocked++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"achievements": list,
		"unlocked":     unlocked,
		"total":        len(list),
	})
}

func (s *Server) handleCheckAchievements(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.CheckAchievements(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if res.Unlocked == nil {
		res.Unlocked = []engagement.UnlockedAchievement{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleChallenges(w http.ResponseWriter, r *http.Request) {
	board, err := s.engine.Challenges(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleChallengeTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.engine.ChallengeTemplate(chi.URLParam(r, "templateID"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	n := s.engine.Notifier()
	if n == nil {
		writeError(w, http.StatusNotFound, "notifications are disabled")
		return
	}
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		s.writeEngineError(w, r, domain.Invalid("user_id", "is required"))
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	pending := r.URL.Query().Get("pending") == "true"

	list, err := n.List(r.Context(), userID, pending, limit)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": list,
		"count":         len(list),
	})
}

func (s *Server) handleNotificationShown(w http.ResponseWriter, r *http.Request) {
	n := s.engine.Notifier()
	if n == nil {
		writeError(w, http.StatusNotFound, "notifications are disabled")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeEngineError(w, r, domain.Invalid("id", "must be an integer"))
		return
	}
	if err := n.MarkShown(r.Context(), chi.URLParam(r, "userID"), id); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, domain.Invalid(name, "must be a positive integer")
	}
	return v, nil
}
