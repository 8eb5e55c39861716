package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BTreeMap/CicekTerapi/internal/chat"
	"github.com/BTreeMap/CicekTerapi/internal/flow"
	"github.com/BTreeMap/CicekTerapi/internal/genai"
	"github.com/BTreeMap/CicekTerapi/internal/insights"
	"github.com/BTreeMap/CicekTerapi/internal/models"
	"github.com/BTreeMap/CicekTerapi/internal/store"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

// getSurveyHandler handles GET /survey
func (s *Server) getSurveyHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	rec, err := s.st.GetSurvey(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Survey not found"))
		return
	}
	if err != nil {
		slog.Error("Server.getSurveyHandler: failed to load survey", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load survey"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

// putSurveyHandler handles PUT /survey
func (s *Server) putSurveyHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req models.SurveyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.putSurveyHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	rec := models.SurveyRecord{
		UserID:              userID,
		HealthStatus:        req.HealthStatus,
		DailyLifeChallenges: req.DailyLifeChallenges,
		HelpSeekingBarriers: req.HelpSeekingBarriers,
		Notes:               req.Notes,
	}
	if err := rec.Validate(); err != nil {
		slog.Warn("Server.putSurveyHandler: validation failed", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	saved, err := s.st.SaveSurvey(r.Context(), rec)
	if err != nil {
		slog.Error("Server.putSurveyHandler: failed to save survey", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save survey"))
		return
	}
	slog.Info("Server.putSurveyHandler: survey saved", "userID", userID)
	writeJSONResponse(w, http.StatusOK, models.Success(saved))
}

// listMessagesHandler handles GET /chat/messages
func (s *Server) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	msgs, err := s.chat.History(r.Context(), userID)
	if err != nil {
		slog.Error("Server.listMessagesHandler: failed to load history", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load messages"))
		return
	}
	if msgs == nil {
		msgs = []models.ConversationMessage{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}

// postMessageHandler handles POST /chat/messages. A failed reply still
// returns 200 with the fallback message.
func (s *Server) postMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req models.ChatMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.postMessageHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	turn, err := s.chat.SendMessageWithKey(r.Context(), userID, r.Header.Get(HeaderIdempotencyKey), req.Content)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrBusy), errors.Is(err, chat.ErrDuplicateRequest):
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		return
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, models.ErrMessageTooLong):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	default:
		slog.Error("Server.postMessageHandler: chat turn failed", "userID", userID, "requestID", requestIDFromContext(r.Context()), "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	if turn.Fallback {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Reply unavailable, fallback sent", turn))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(turn))
}

// searchReferencesHandler handles POST /references/search
func (s *Server) searchReferencesHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ReferenceSearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.searchReferencesHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	out, err := s.chat.LookupReferences(r.Context(), req.Query)
	if err != nil {
		status, msg := flowErrorStatus(err)
		writeJSONResponse(w, status, models.Error(msg))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

// analyzeHandler handles POST /insights/analyze
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	ins, err := s.analyzer.Analyze(r.Context(), userID)
	if errors.Is(err, insights.ErrNoSurvey) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Complete the survey before requesting an analysis"))
		return
	}
	if err != nil {
		status, msg := flowErrorStatus(err)
		slog.Error("Server.analyzeHandler: analysis failed", "userID", userID, "status", status, "error", err)
		writeJSONResponse(w, status, models.Error(msg))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(ins))
}

// listInsightsHandler handles GET /insights?limit=N
func (s *Server) listInsightsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	limit := DefaultInsightsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = n
	}
	list, err := s.st.ListInsights(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Server.listInsightsHandler: failed to list insights", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load insights"))
		return
	}
	if list == nil {
		list = []models.Insight{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(list))
}

// flowErrorStatus maps a flow error to an HTTP status and a client-safe
// message. Input problems are the client's; everything else is upstream.
func flowErrorStatus(err error) (int, string) {
	switch flow.ErrorKind(err) {
	case flow.KindValidation:
		return http.StatusBadRequest, err.Error()
	case flow.KindProvider, flow.KindEmptyResponse, flow.KindResponseShape:
		var perr *genai.ProviderError
		if errors.As(err, &perr) && perr.RateLimited() {
			slog.Warn("Server.flowErrorStatus: provider rate limited", "template", perr.Template)
			return http.StatusBadGateway, "The assistant is busy right now, please try again in a minute"
		}
		return http.StatusBadGateway, "The assistant is unavailable, please try again later"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
