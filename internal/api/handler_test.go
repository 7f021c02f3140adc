package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/chatvault/chatvault/internal/db"
	"github.com/chatvault/chatvault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) (*Handler, *db.Database) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), []string{"chatgpt", "claude"})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewHandler(database, zap.NewNop()), database
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func createConversation(t *testing.T, h *Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.HandleConversations(rec, httptest.NewRequest(http.MethodPost, "/api/conversations", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	id, ok := decodeBody(t, rec)["conversation_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)
	return id
}

func sendMessage(t *testing.T, h *Handler, req SendMessageRequest) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.HandleMessages(rec, httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(payload)))
	return rec
}

func TestCreateThenGetConversation(t *testing.T) {
	h, _ := newTestHandler(t)
	convID := createConversation(t, h)

	rec := httptest.NewRecorder()
	h.HandleConversations(rec, httptest.NewRequest(http.MethodGet, "/api/conversations?conversation_id="+convID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, convID, decodeBody(t, rec)["id"])

	rec = httptest.NewRecorder()
	h.HandleConversations(rec, httptest.NewRequest(http.MethodGet, "/api/conversations?conversation_id=missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessageDeclaredTurn(t *testing.T) {
	h, _ := newTestHandler(t)
	convID := createConversation(t, h)

	rec := sendMessage(t, h, SendMessageRequest{
		ConversationID: convID, Sender: models.SenderUser, Text: "hi", TurnOrder: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["message_id"])

	// Stale declared turn: rejected with the expected slot, nothing written.
	rec = sendMessage(t, h, SendMessageRequest{
		ConversationID: convID, Sender: models.SenderUser, Text: "again", TurnOrder: 1,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid turn order: expected 2", decodeBody(t, rec)["error"])

	rec = sendMessage(t, h, SendMessageRequest{
		ConversationID: convID, Sender: models.AssistantSender("claude"), Text: "hello", TurnOrder: 2,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSendMessageValidation(t *testing.T) {
	h, _ := newTestHandler(t)
	convID := createConversation(t, h)

	rec := sendMessage(t, h, SendMessageRequest{
		ConversationID: convID, Sender: "robot", Text: "hi", TurnOrder: 1,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid sender", decodeBody(t, rec)["error"])

	rec = sendMessage(t, h, SendMessageRequest{
		ConversationID: convID, Sender: models.SenderUser, Text: "", TurnOrder: 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = sendMessage(t, h, SendMessageRequest{
		ConversationID: "missing", Sender: models.SenderUser, Text: "hi", TurnOrder: 1,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "conversation not found", decodeBody(t, rec)["error"])
}

func TestListMessagesPaginated(t *testing.T) {
	h, _ := newTestHandler(t)
	convID := createConversation(t, h)

	for turn := 1; turn <= 4; turn++ {
		rec := sendMessage(t, h, SendMessageRequest{
			ConversationID: convID,
			Sender:         models.SenderUser,
			Text:           fmt.Sprintf("message %d", turn),
			TurnOrder:      turn,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	list := func(query string) []any {
		rec := httptest.NewRecorder()
		h.HandleMessages(rec, httptest.NewRequest(http.MethodGet, "/api/messages?conversation_id="+convID+query, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		messages, ok := decodeBody(t, rec)["messages"].([]any)
		require.True(t, ok)
		return messages
	}

	assert.Len(t, list(""), 4)
	first := list("&offset=0&limit=2")
	second := list("&offset=2&limit=2")
	assert.Len(t, first, 2)
	assert.Len(t, second, 2)

	msg, ok := first[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "message 1", msg["text"])
	assert.Equal(t, float64(1), msg["turn_order"])
	assert.Equal(t, models.SenderUser, msg["sender"])
	assert.NotEmpty(t, msg["id"])
	assert.NotEmpty(t, msg["timestamp"])

	assert.Empty(t, list("&limit=0"))

	rec := httptest.NewRecorder()
	h.HandleMessages(rec, httptest.NewRequest(http.MethodGet, "/api/messages?conversation_id="+convID+"&offset=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteConversation(t *testing.T) {
	h, database := newTestHandler(t)
	convID := createConversation(t, h)
	rec := sendMessage(t, h, SendMessageRequest{
		ConversationID: convID, Sender: models.SenderUser, Text: "hi", TurnOrder: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleConversations(rec, httptest.NewRequest(http.MethodDelete, "/api/conversations?conversation_id="+convID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := database.GetConversation(convID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	// Absent conversations are a visible not-found at this boundary.
	rec = httptest.NewRecorder()
	h.HandleConversations(rec, httptest.NewRequest(http.MethodDelete, "/api/conversations?conversation_id="+convID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandleConversations(rec, httptest.NewRequest(http.MethodPut, "/api/conversations", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleMessages(rec, httptest.NewRequest(http.MethodDelete, "/api/messages", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
