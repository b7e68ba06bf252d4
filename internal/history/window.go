package history

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/comigor/relaychat/internal/config"
)

// Window policy names accepted in relay.history.policy.
const (
	PolicyFull        = "full"
	PolicyLastN       = "last_n"
	PolicyTokenBudget = "token_budget"
)

// Window decides which part of a conversation is replayed upstream.
// Implementations keep order and never drop the newest message.
type Window interface {
	Name() string
	Apply(msgs []Message) []Message
}

// NewWindow builds the window policy named in cfg.
func NewWindow(cfg config.HistoryConfig) (Window, error) {
	switch cfg.Policy {
	case "", PolicyFull:
		return FullWindow{}, nil
	case PolicyLastN:
		if cfg.MaxMessages <= 0 {
			return nil, fmt.Errorf("history policy %s needs max_messages > 0", PolicyLastN)
		}
		return LastNWindow{N: cfg.MaxMessages}, nil
	case PolicyTokenBudget:
		if cfg.MaxTokens <= 0 {
			return nil, fmt.Errorf("history policy %s needs max_tokens > 0", PolicyTokenBudget)
		}
		counter, err := NewTiktokenCounter()
		if err != nil {
			return nil, err
		}
		return &TokenBudgetWindow{Budget: cfg.MaxTokens, Counter: counter}, nil
	default:
		return nil, fmt.Errorf("unknown history policy %q", cfg.Policy)
	}
}

// FullWindow replays the whole conversation.
type FullWindow struct{}

func (FullWindow) Name() string { return PolicyFull }

func (FullWindow) Apply(msgs []Message) []Message {
	return append([]Message(nil), msgs...)
}

// LastNWindow keeps the most recent N messages.
type LastNWindow struct {
	N int
}

func (w LastNWindow) Name() string { return PolicyLastN }

func (w LastNWindow) Apply(msgs []Message) []Message {
	start := 0
	if n := max(w.N, 1); len(msgs) > n {
		start = len(msgs) - n
	}
	return append([]Message(nil), msgs[start:]...)
}

// TokenCounter counts tokens in a piece of text.
type TokenCounter interface {
	CountTokens(text string) int
}

// TokenBudgetWindow keeps the newest messages whose combined content fits
// in Budget tokens.
type TokenBudgetWindow struct {
	Budget  int
	Counter TokenCounter
}

func (w *TokenBudgetWindow) Name() string { return PolicyTokenBudget }

func (w *TokenBudgetWindow) Apply(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	start := len(msgs) - 1
	used := w.Counter.CountTokens(msgs[start].Content)
	for start > 0 {
		n := w.Counter.CountTokens(msgs[start-1].Content)
		if used+n > w.Budget {
			break
		}
		used += n
		start--
	}
	return append([]Message(nil), msgs[start:]...)
}

const encodingName = "cl100k_base"

var loaderOnce sync.Once

// TiktokenCounter counts tokens with the cl100k_base BPE used by the
// gpt-3.5/gpt-4 family.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the encoding from the embedded offline BPE files.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encodingName, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
