package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/tmc/langchaingo/llms"
)

var (
	ErrUnknownModel = errors.New("unknown model")

	// ErrGeneration wraps backend failures (timeouts, quota, malformed
	// responses). The responder never retries; the caller decides whether
	// to surface or re-attempt.
	ErrGeneration = errors.New("generation failed")
)

const generateTimeout = 30 * time.Second

// Responder routes generation requests to one of a fixed set of named
// backends. The registry is closed after construction.
type Responder struct {
	backends map[string]llms.Model
	order    []string
}

// NewResponder builds a responder from name/backend pairs via Register.
func NewResponder() *Responder {
	return &Responder{backends: make(map[string]llms.Model)}
}

// Register adds a named backend. The first registered model is the
// default. Re-registering a name replaces its backend but keeps its
// position.
func (r *Responder) Register(name string, backend llms.Model) {
	if _, ok := r.backends[name]; !ok {
		r.order = append(r.order, name)
	}
	r.backends[name] = backend
}

// Has reports whether name is a registered model.
func (r *Responder) Has(name string) bool {
	_, ok := r.backends[name]
	return ok
}

// DefaultModel is the first registered model name, or "" when the
// registry is empty.
func (r *Responder) DefaultModel() string {
	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

// Models lists the registered model names in registration order.
func (r *Responder) Models() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Respond generates a reply from the named model given the prior
// transcript and the new user text. Backend failures come back wrapping
// ErrGeneration so a failed generation is distinguishable from an unknown
// model.
func (r *Responder) Respond(ctx context.Context, model string, transcript []models.Message, userText string) (string, error) {
	backend, ok := r.backends[model]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	prompt := buildPrompt(transcript, userText)

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	completion, err := llms.GenerateFromSinglePrompt(ctx, backend, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return strings.TrimSpace(completion), nil
}

func buildPrompt(transcript []models.Message, userText string) string {
	var b strings.Builder
	b.WriteString("The following is a conversation between a user and an AI assistant.\n")
	b.WriteString("Continue it with the assistant's next reply only.\n\nConversation:\n")
	for _, msg := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", msg.Sender, msg.Text)
	}
	fmt.Fprintf(&b, "%s: %s\n\nResponse:", models.SenderUser, userText)
	return b.String()
}
