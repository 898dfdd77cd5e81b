package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/interviewer/internal/interview"
	"github.com/ent0n29/interviewer/internal/protocol"
	"github.com/ent0n29/interviewer/internal/records"
	"github.com/ent0n29/interviewer/internal/session"
)

type startRequest struct {
	JobDescription string `json:"job_description"`
	ResumeText     string `json:"resume_text"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Greeting  string `json:"greeting"`
	Degraded  bool   `json:"degraded,omitempty"`
}

type turnRequest struct {
	Text string `json:"text"`
}

type replyResponse struct {
	Message    string             `json:"message"`
	TurnCount  int                `json:"turn_count"`
	Difficulty session.Difficulty `json:"difficulty"`
	Degraded   bool               `json:"degraded,omitempty"`
}

type endResponse struct {
	Report     interview.Report    `json:"report"`
	Transcript []session.Utterance `json:"transcript"`
	Artifact   string              `json:"artifact,omitempty"`
	Warning    string              `json:"warning,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if max := s.cfg.MaxResumeChars; max > 0 && utf8.RuneCountInString(req.ResumeText) > max {
		respondError(w, http.StatusRequestEntityTooLarge, "resume_too_large",
			fmt.Sprintf("resume_text exceeds %d characters", max))
		return
	}

	owner := ownerFrom(r.Context())
	res, err := s.orchestrator.Start(r.Context(), interview.StartRequest{
		OwnerID:        owner,
		JobDescription: req.JobDescription,
		ResumeText:     req.ResumeText,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	if err := s.records.Create(r.Context(), records.Record{
		ID:             res.SessionID,
		OwnerID:        owner,
		JobDescription: req.JobDescription,
		Status:         records.StatusInProgress,
	}); err != nil {
		// The interview itself is usable; only history is affected.
		s.logger.Warn("create interview record failed", "session_id", res.SessionID, "err", err)
	}

	respondJSON(w, http.StatusCreated, startResponse{
		SessionID: res.SessionID,
		Greeting:  res.Greeting,
		Degraded:  res.Degraded,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, 100)
	}
	items, err := s.orchestrator.List(r.Context(), ownerFrom(r.Context()), limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	sess.Transcript = sess.VisibleTranscript()
	respondJSON(w, http.StatusOK, sess)
}

// handleTurn streams the interviewer reply as chunked text/plain. Headers are
// committed on the first fragment so earlier failures still get a status code.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTurn(w, r)
	if !ok {
		return
	}
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	sink := func(fragment string) error {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write([]byte(fragment)); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	res, err := s.orchestrator.Turn(r.Context(), sess.ID, req.Text, sink)
	if err != nil {
		if started {
			s.logger.Warn("turn failed after streaming began", "session_id", sess.ID, "err", err)
			return
		}
		s.respondErr(w, r, err)
		return
	}
	if !started {
		// A reply with no fragments still ends the turn cleanly.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
	s.logger.Debug("turn streamed",
		"session_id", sess.ID,
		"turn_count", res.TurnCount,
		"degraded", res.Degraded,
		"disconnected", res.Disconnected,
	)
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTurn(w, r)
	if !ok {
		return
	}
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	res, err := s.orchestrator.Interact(r.Context(), sess.ID, req.Text)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, replyResponse{
		Message:    res.Text,
		TurnCount:  res.TurnCount,
		Difficulty: res.Difficulty,
		Degraded:   res.Degraded,
	})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	res, err := s.orchestrator.End(r.Context(), sess.ID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.finish(r.Context(), res))
}

// finish archives the completed interview and renders the artifact. Neither
// step can fail the request; problems surface as a warning.
func (s *Server) finish(ctx context.Context, res interview.EndResult) endResponse {
	out := endResponse{Report: res.Report, Transcript: res.Transcript}
	var warnings []string

	feedback, err := json.Marshal(res.Report)
	if err == nil {
		err = s.records.Complete(ctx, res.Session.ID, records.Completion{
			Feedback:     feedback,
			Transcript:   res.RenderedTranscript,
			OverallScore: res.Report.OverallScore(),
		})
	}
	if err != nil {
		s.logger.Warn("archive interview record failed", "session_id", res.Session.ID, "err", err)
		warnings = append(warnings, "interview history could not be updated")
	}

	if s.renderer != nil {
		renderCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		artifact, err := s.renderer.Render(renderCtx, res.Session.ID, res.Transcript, res.Report)
		cancel()
		if err != nil {
			s.logger.Warn("render report failed", "session_id", res.Session.ID, "err", err)
			warnings = append(warnings, "report document could not be generated")
		} else {
			out.Artifact = artifact
		}
	}
	out.Warning = strings.Join(warnings, "; ")
	return out
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	recs, err := s.records.ListByOwner(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, records.Summarize(recs))
}

func (s *Server) decodeTurn(w http.ResponseWriter, r *http.Request) (turnRequest, bool) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return turnRequest{}, false
	}
	if utf8.RuneCountInString(req.Text) > protocol.MaxCandidateTurnRunes {
		respondError(w, http.StatusRequestEntityTooLarge, "turn_too_large",
			fmt.Sprintf("text exceeds %d characters", protocol.MaxCandidateTurnRunes))
		return turnRequest{}, false
	}
	return req, true
}

// ownedSession loads the addressed session and hides sessions of other owners.
func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return session.Session{}, false
	}
	sess, err := s.orchestrator.Get(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return session.Session{}, false
	}
	if sess.OwnerID != ownerFrom(r.Context()) {
		s.respondErr(w, r, fmt.Errorf("session %s: %w", id, session.ErrSessionNotFound))
		return session.Session{}, false
	}
	return sess, true
}
