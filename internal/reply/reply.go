// Package reply decides where the bot side of an exchange comes from: a
// configured completion backend, or a canned pool when none is configured.
package reply

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"convo-chat/internal/llm"
	"convo-chat/internal/storage"
)

const DefaultPlaceholder = "Oops! GPT error occurred."

// DefaultPool is used when no backend is configured and no pool file is given.
var DefaultPool = []string{
	"Hello there!",
	"Random text",
	"Yes, please continue...",
	"No idea what you said!",
}

type Reply struct {
	Text   string
	Source storage.ReplySource
}

// Source produces the reply for one turn. It never fails: failures are
// folded into the reply text.
type Source interface {
	Reply(ctx context.Context, turns []llm.Message) Reply
}

// Configured calls a completion backend once per turn and substitutes
// Placeholder when the call fails.
type Configured struct {
	Client      llm.Client
	Options     llm.Options
	Placeholder string
	Log         *zap.Logger
}

func (c *Configured) Reply(ctx context.Context, turns []llm.Message) Reply {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Debug("calling completion backend", zap.Int("turns", len(turns)))

	resp, err := c.Client.Generate(ctx, turns, c.Options)
	if err != nil {
		log.Error("completion backend call failed", zap.Error(err))
		placeholder := c.Placeholder
		if placeholder == "" {
			placeholder = DefaultPlaceholder
		}
		return Reply{Text: placeholder, Source: storage.ReplyPlaceholder}
	}

	log.Debug("completion backend responded",
		zap.String("model", resp.Model),
		zap.Int("prompt_tokens", resp.PromptTokens),
		zap.Int("completion_tokens", resp.CompletionTokens),
		zap.Int("total_tokens", resp.TotalTokens))
	return Reply{Text: resp.Content, Source: storage.ReplyGenerated}
}

// Unconfigured draws each reply pseudo-randomly from Pool.
type Unconfigured struct {
	Pool []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewUnconfigured returns a pool source. A nil rng uses a randomly seeded one.
func NewUnconfigured(pool []string, rng *rand.Rand) *Unconfigured {
	if len(pool) == 0 {
		pool = DefaultPool
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Unconfigured{Pool: pool, rng: rng}
}

func (u *Unconfigured) Reply(_ context.Context, _ []llm.Message) Reply {
	u.mu.Lock()
	i := u.rng.IntN(len(u.Pool))
	u.mu.Unlock()
	return Reply{Text: u.Pool[i], Source: storage.ReplyFallback}
}

type poolFile struct {
	Replies []string `yaml:"replies"`
}

// LoadPool reads a YAML file of the form `replies: [...]`. Blank entries are
// dropped; an empty result is an error.
func LoadPool(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reply pool: %w", err)
	}
	var pf poolFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse reply pool %s: %w", path, err)
	}
	pool := make([]string, 0, len(pf.Replies))
	for _, r := range pf.Replies {
		if strings.TrimSpace(r) != "" {
			pool = append(pool, r)
		}
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("reply pool %s has no replies", path)
	}
	return pool, nil
}
