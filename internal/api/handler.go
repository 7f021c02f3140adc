package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chatvault/chatvault/internal/db"
	"go.uber.org/zap"
)

const defaultListLimit = 50

type Handler struct {
	db     *db.Database
	logger *zap.Logger
}

func NewHandler(database *db.Database, logger *zap.Logger) *Handler {
	return &Handler{
		db:     database,
		logger: logger,
	}
}

type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Text           string `json:"text"`
	TurnOrder      int    `json:"turn_order"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleConversations creates a conversation on POST, fetches one on GET
// and deletes one (with all its messages) on DELETE.
func (h *Handler) HandleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		conv, err := h.db.CreateConversation()
		if err != nil {
			h.logger.Error("Failed to create conversation", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, map[string]string{"conversation_id": conv.ID})

	case http.MethodGet:
		convID := r.URL.Query().Get("conversation_id")
		if convID == "" {
			writeError(w, http.StatusBadRequest, "conversation_id is required")
			return
		}
		conv, err := h.db.GetConversation(convID)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		if err != nil {
			h.logger.Error("Failed to get conversation", zap.Error(err),
				zap.String("conversation_id", convID))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, conv)

	case http.MethodDelete:
		convID := r.URL.Query().Get("conversation_id")
		if convID == "" {
			writeError(w, http.StatusBadRequest, "conversation_id is required")
			return
		}
		deleted, err := h.db.DeleteConversation(convID)
		if err != nil {
			h.logger.Error("Failed to delete conversation", zap.Error(err),
				zap.String("conversation_id", convID))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !deleted {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// HandleMessages appends a message at a client-declared turn on POST and
// lists a paginated page on GET. The declared turn is the optimistic
// concurrency check: a stale turn is rejected with the expected value and
// writes nothing.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		msg, err := h.db.AppendMessage(req.ConversationID, req.Sender, req.Text, req.TurnOrder)
		if err != nil {
			h.rejectAppend(w, req, err)
			return
		}
		writeJSON(w, map[string]string{"message_id": msg.ID})

	case http.MethodGet:
		convID := r.URL.Query().Get("conversation_id")
		if convID == "" {
			writeError(w, http.StatusBadRequest, "conversation_id is required")
			return
		}
		offset, limit, err := pagination(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		messages, err := h.db.ListMessages(convID, offset, limit)
		if err != nil {
			h.logger.Error("Failed to list messages", zap.Error(err),
				zap.String("conversation_id", convID))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, map[string]any{"messages": messages})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) rejectAppend(w http.ResponseWriter, req SendMessageRequest, err error) {
	var turnErr *db.TurnOrderError
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, db.ErrInvalidSender):
		writeError(w, http.StatusBadRequest, "invalid sender")
	case errors.Is(err, db.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "message text must not be empty")
	case errors.As(err, &turnErr):
		writeError(w, http.StatusConflict, turnErr.Error())
	default:
		h.logger.Error("Failed to append message", zap.Error(err),
			zap.String("conversation_id", req.ConversationID))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func pagination(r *http.Request) (offset, limit int, err error) {
	offset, err = queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		return 0, 0, errors.New("invalid offset")
	}
	limit, err = queryInt(r, "limit", defaultListLimit)
	if err != nil || limit < 0 {
		return 0, 0, errors.New("invalid limit")
	}
	return offset, limit, nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
