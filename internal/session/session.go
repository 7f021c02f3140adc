package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chatvault/chatvault/internal/db"
	"github.com/chatvault/chatvault/internal/llm"
	"github.com/chatvault/chatvault/internal/models"
	"go.uber.org/zap"
)

// SwitchDirective prefixes a client message that selects a different
// backend model instead of being treated as conversation text.
const SwitchDirective = "set_model:"

type State int

const (
	StateOpening State = iota
	StateActive
	StateClosed
)

// Conn is the bidirectional text transport a session runs over. The
// production implementation wraps a WebSocket connection; tests use a
// scripted one.
type Conn interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// Session owns one connection's conversation: the conversation id and the
// selected model live only here, and all inbound units are handled
// sequentially by Run. Turn numbers on this path are assigned by the
// server, never by the client.
type Session struct {
	conn   Conn
	db     *db.Database
	resp   *llm.Responder
	logger *zap.Logger

	state  State
	convID string
	model  string
}

func New(conn Conn, database *db.Database, responder *llm.Responder, logger *zap.Logger) *Session {
	return &Session{
		conn:   conn,
		db:     database,
		resp:   responder,
		logger: logger,
		state:  StateOpening,
	}
}

// State reports the session's lifecycle state.
func (s *Session) State() State { return s.state }

// ConversationID is the id of the conversation this session writes to.
// Empty until Run has opened the session.
func (s *Session) ConversationID() string { return s.convID }

// Run drives the session to completion: create the conversation, announce
// the default model, then process inbound units one at a time until the
// transport closes. The conversation stays persisted after Run returns.
func (s *Session) Run(ctx context.Context) error {
	conv, err := s.db.CreateConversation()
	if err != nil {
		s.state = StateClosed
		return fmt.Errorf("failed to open session: %w", err)
	}
	s.convID = conv.ID
	s.model = s.resp.DefaultModel()

	announce := fmt.Sprintf("model: %s (switch with %s<name>; available: %s)",
		s.model, SwitchDirective, strings.Join(s.resp.Models(), ", "))
	if err := s.conn.WriteText(announce); err != nil {
		s.state = StateClosed
		return err
	}
	s.state = StateActive

	for {
		text, err := s.conn.ReadText()
		if err != nil {
			s.state = StateClosed
			s.logger.Info("session closed",
				zap.String("conversation_id", s.convID),
				zap.Error(err))
			return nil
		}
		s.handle(ctx, text)
	}
}

func (s *Session) handle(ctx context.Context, text string) {
	if name, ok := strings.CutPrefix(text, SwitchDirective); ok {
		s.switchModel(name)
		return
	}
	s.exchange(ctx, text)
}

// switchModel updates the selected model. A switch never consumes a turn
// slot; an unknown name keeps the prior model.
func (s *Session) switchModel(name string) {
	if !s.resp.Has(name) {
		s.notify(fmt.Sprintf("error: unknown model %q, still using %s", name, s.model))
		return
	}
	s.model = name
	s.notify(fmt.Sprintf("model set to %s", name))
}

// exchange persists the user message at the next turn, asks the selected
// model for a reply, and persists and emits the reply at the turn after.
// A failed generation leaves the user message in place; numbering simply
// continues from it on the next attempt.
func (s *Session) exchange(ctx context.Context, text string) {
	turn, err := s.db.NextTurn(s.convID)
	if err != nil {
		s.storageError("failed to compute next turn", err)
		return
	}

	transcript, err := s.db.ListMessages(s.convID, 0, turn-1)
	if err != nil {
		s.storageError("failed to load transcript", err)
		return
	}

	if _, err := s.db.AppendMessage(s.convID, models.SenderUser, text, turn); err != nil {
		if errors.Is(err, db.ErrEmptyText) {
			s.notify("error: message text must not be empty")
			return
		}
		s.storageError("failed to save user message", err)
		return
	}

	reply, err := s.resp.Respond(ctx, s.model, transcript, text)
	if err != nil {
		s.logger.Warn("generation failed",
			zap.String("conversation_id", s.convID),
			zap.String("model", s.model),
			zap.Error(err))
		s.notify(fmt.Sprintf("error: %s failed to generate a reply, please try again", s.model))
		return
	}

	if _, err := s.db.AppendMessage(s.convID, models.AssistantSender(s.model), reply, turn+1); err != nil {
		s.storageError("failed to save assistant message", err)
		return
	}

	s.notify(fmt.Sprintf("%s: %s", s.model, reply))
}

func (s *Session) storageError(msg string, err error) {
	s.logger.Error(msg,
		zap.String("conversation_id", s.convID),
		zap.Error(err))
	s.notify("error: storage unavailable, please try again")
}

func (s *Session) notify(text string) {
	if err := s.conn.WriteText(text); err != nil {
		s.logger.Warn("failed to write to session peer",
			zap.String("conversation_id", s.convID),
			zap.Error(err))
	}
}
