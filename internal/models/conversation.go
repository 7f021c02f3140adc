package models

import (
	"strings"
	"time"
)

// SenderUser is the sender value for messages written by the human side of
// a conversation. Assistant messages carry "assistant:<model>" so the
// record keeps which backend produced the reply.
const SenderUser = "user"

const assistantPrefix = "assistant:"

type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID        string    `json:"id"`
	ConvID    string    `json:"conversation_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	TurnOrder int       `json:"turn_order"`
}

// AssistantSender returns the sender value recorded for a reply generated
// by the named model.
func AssistantSender(model string) string {
	return assistantPrefix + model
}

// AssistantModel extracts the model name from an assistant sender value.
// The second return is false for any sender not of the assistant form.
func AssistantModel(sender string) (string, bool) {
	name, ok := strings.CutPrefix(sender, assistantPrefix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
