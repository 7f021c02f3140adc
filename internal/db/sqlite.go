package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    sender TEXT NOT NULL,
    text TEXT NOT NULL,
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    turn_order INTEGER NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id),
    UNIQUE (conversation_id, turn_order)
);`

var (
	ErrNotFound      = errors.New("conversation not found")
	ErrInvalidSender = errors.New("invalid sender")
	ErrEmptyText     = errors.New("message text must not be empty")
)

// TurnOrderError reports a rejected append whose declared turn did not
// match the next slot for the conversation. Expected is the turn the
// caller should have used.
type TurnOrderError struct {
	Expected int
}

func (e *TurnOrderError) Error() string {
	return fmt.Sprintf("invalid turn order: expected %d", e.Expected)
}

type Database struct {
	db      *sql.DB
	senders map[string]bool
}

// New opens (or creates) the SQLite database at dbPath and prepares the
// schema. assistantModels fixes the closed sender set: "user" plus
// "assistant:<name>" for each registered model. Writes with any other
// sender are rejected.
func New(dbPath string, assistantModels []string) (*Database, error) {
	// Transactions take the write lock up front so concurrent appends to
	// one conversation serialize instead of failing mid-transaction.
	sqldb, err := sql.Open("sqlite3", dbPath+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if _, err := sqldb.Exec(schema); err != nil {
		return nil, err
	}

	senders := map[string]bool{models.SenderUser: true}
	for _, m := range assistantModels {
		senders[models.AssistantSender(m)] = true
	}

	return &Database{db: sqldb, senders: senders}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) CreateConversation() (*models.Conversation, error) {
	query := `
        INSERT INTO conversations (id, created_at)
        VALUES (?, CURRENT_TIMESTAMP)
        RETURNING created_at`

	conv := &models.Conversation{ID: uuid.NewString()}
	if err := db.db.QueryRow(query, conv.ID).Scan(&conv.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (db *Database) GetConversation(id string) (*models.Conversation, error) {
	conv := &models.Conversation{ID: id}
	err := db.db.QueryRow(
		"SELECT created_at FROM conversations WHERE id = ?", id,
	).Scan(&conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// AppendMessage inserts a message at the declared turn. The existence
// check, sender check and turn check run in one transaction with the
// insert, so concurrent appends to the same conversation cannot both
// claim a slot or leave a gap. A rejected append writes nothing.
func (db *Database) AppendMessage(convID, sender, text string, turn int) (*models.Message, error) {
	if !db.senders[sender] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSender, sender)
	}
	if text == "" {
		return nil, ErrEmptyText
	}

	tx, err := db.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(
		"SELECT COUNT(1) FROM conversations WHERE id = ?", convID,
	).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	var latest int
	if err := tx.QueryRow(
		"SELECT COALESCE(MAX(turn_order), 0) FROM messages WHERE conversation_id = ?", convID,
	).Scan(&latest); err != nil {
		return nil, err
	}
	if turn != latest+1 {
		return nil, &TurnOrderError{Expected: latest + 1}
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		ConvID:    convID,
		Sender:    sender,
		Text:      text,
		TurnOrder: turn,
	}
	if err := tx.QueryRow(`
        INSERT INTO messages (id, conversation_id, sender, text, timestamp, turn_order)
        VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
        RETURNING timestamp`,
		msg.ID, msg.ConvID, msg.Sender, msg.Text, msg.TurnOrder,
	).Scan(&msg.Timestamp); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a page of the conversation's messages ordered by
// timestamp, with turn_order as the tie-break. A limit of 0 returns an
// empty page.
func (db *Database) ListMessages(convID string, offset, limit int) ([]models.Message, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("offset and limit must be non-negative")
	}

	rows, err := db.db.Query(`
        SELECT id, conversation_id, sender, text, timestamp, turn_order
        FROM messages
        WHERE conversation_id = ?
        ORDER BY timestamp ASC, turn_order ASC
        LIMIT ? OFFSET ?`, convID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Sender, &msg.Text, &msg.Timestamp, &msg.TurnOrder); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteConversation removes the conversation and all its messages in one
// transaction. It returns false without error when the conversation does
// not exist.
func (db *Database) DeleteConversation(convID string) (bool, error) {
	tx, err := db.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", convID); err != nil {
		return false, err
	}

	result, err := tx.Exec("DELETE FROM conversations WHERE id = ?", convID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	return true, tx.Commit()
}

// LatestTurnOrder is 0 for an empty (or absent) conversation, otherwise
// the highest stored turn.
func (db *Database) LatestTurnOrder(convID string) (int, error) {
	var latest int
	err := db.db.QueryRow(
		"SELECT COALESCE(MAX(turn_order), 0) FROM messages WHERE conversation_id = ?", convID,
	).Scan(&latest)
	return latest, err
}

// NextTurn is the turn a new message should claim. The streaming path
// assigns turns with this; the API path instead validates the caller's
// declared turn inside AppendMessage.
func (db *Database) NextTurn(convID string) (int, error) {
	latest, err := db.LatestTurnOrder(convID)
	if err != nil {
		return 0, err
	}
	return latest + 1, nil
}
