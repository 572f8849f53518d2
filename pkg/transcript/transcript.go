// Package transcript provides the append-only conversation log for one run.
//
// Messages are immutable once appended and keep their insertion order. The
// chat stage reads the transcript to decide when information gathering is
// complete; later stages never read it.
package transcript

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"echoflow/pkg/utils"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrContextBudgetExceeded indicates the transcript has outgrown the token
// budget allowed for a single backend request.
var ErrContextBudgetExceeded = errors.New("transcript exceeds context token budget")

// Message is one immutable entry in the transcript.
type Message struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Content  string `json:"content"`
	Sequence int    `json:"sequence"`
}

// Transcript is an append-only ordered log of exchanged messages.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
	counter  *utils.TokenCounter
	budget   int // max tokens across all message content; 0 disables the check
}

// New creates an empty transcript. counter may be nil, in which case token
// accounting falls back to character estimation.
func New(counter *utils.TokenCounter, maxContextTokens int) *Transcript {
	return &Transcript{
		counter: counter,
		budget:  maxContextTokens,
	}
}

// Append adds a message and returns it with id and sequence assigned.
func (t *Transcript) Append(role, content string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := Message{
		ID:       uuid.NewString(),
		Role:     role,
		Content:  content,
		Sequence: len(t.messages),
	}
	t.messages = append(t.messages, msg)
	return msg
}

// Messages returns a copy of the transcript in insertion order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Message, len(t.messages))
	copy(result, t.messages)
	return result
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// LastAssistant returns the most recent assistant message, if any.
func (t *Transcript) LastAssistant() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role == RoleAssistant {
			return t.messages[i], true
		}
	}
	return Message{}, false
}

// ExchangeCount returns the number of completed user/assistant exchanges:
// user messages that received an assistant reply after them.
func (t *Transcript) ExchangeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	exchanges := 0
	awaitingReply := false
	for i := range t.messages {
		switch t.messages[i].Role {
		case RoleUser:
			awaitingReply = true
		case RoleAssistant:
			if awaitingReply {
				exchanges++
				awaitingReply = false
			}
		}
	}
	return exchanges
}

// UserMessages returns the user messages in order.
func (t *Transcript) UserMessages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []Message
	for i := range t.messages {
		if t.messages[i].Role == RoleUser {
			result = append(result, t.messages[i])
		}
	}
	return result
}

// TokenCount returns the token total across all message content.
func (t *Transcript) TokenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := 0
	for i := range t.messages {
		total += t.counter.CountTokens(t.messages[i].Content)
	}
	return total
}

// CheckBudget returns ErrContextBudgetExceeded if appending content would
// push the transcript past the configured token budget.
func (t *Transcript) CheckBudget(content string) error {
	if t.budget <= 0 {
		return nil
	}
	if t.TokenCount()+t.counter.CountTokens(content) > t.budget {
		return ErrContextBudgetExceeded
	}
	return nil
}
