package reply

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"convo-chat/internal/config"
	"convo-chat/internal/llm"
	"convo-chat/internal/storage"
)

type fakeLLM struct {
	resp  llm.Response
	err   error
	calls int
	got   []llm.Message
	opts  llm.Options
}

func (f *fakeLLM) Generate(_ context.Context, msgs []llm.Message, opts llm.Options) (llm.Response, error) {
	f.calls++
	f.got = msgs
	f.opts = opts
	return f.resp, f.err
}

func TestConfigured_Success(t *testing.T) {
	client := &fakeLLM{resp: llm.Response{Content: "generated", Model: "m"}}
	src := &Configured{Client: client, Options: llm.Options{MaxTokens: 100, Temperature: 0.7}, Placeholder: "oops"}

	turns := []llm.Message{{Role: llm.RoleSystem, Content: "sys"}, {Role: llm.RoleUser, Content: "hello"}}
	r := src.Reply(context.Background(), turns)

	assert.Equal(t, Reply{Text: "generated", Source: storage.ReplyGenerated}, r)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, turns, client.got)
	assert.Equal(t, 100, client.opts.MaxTokens)
}

func TestConfigured_FailureYieldsPlaceholder(t *testing.T) {
	client := &fakeLLM{err: errors.New("connection refused")}
	src := &Configured{Client: client, Placeholder: "Oops! GPT error occurred.", Log: zap.NewNop()}

	r := src.Reply(context.Background(), nil)

	assert.Equal(t, Reply{Text: "Oops! GPT error occurred.", Source: storage.ReplyPlaceholder}, r)
	assert.Equal(t, 1, client.calls, "a failed call is not retried")
}

func TestConfigured_DefaultPlaceholder(t *testing.T) {
	src := &Configured{Client: &fakeLLM{err: llm.ErrBackend}}
	assert.Equal(t, DefaultPlaceholder, src.Reply(context.Background(), nil).Text)
}

func TestUnconfigured_DrawsFromPool(t *testing.T) {
	src := NewUnconfigured(nil, rand.New(rand.NewPCG(1, 2)))

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		r := src.Reply(context.Background(), nil)
		assert.Contains(t, DefaultPool, r.Text)
		assert.Equal(t, storage.ReplyFallback, r.Source)
		seen[r.Text] = true
	}
	assert.Greater(t, len(seen), 1, "replies should vary across turns")
}

func TestLoadPool(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "pool.yaml")
	require.NoError(t, os.WriteFile(good, []byte("replies:\n  - Hi!\n  - \"  \"\n  - Tell me more\n"), 0o644))
	pool, err := LoadPool(good)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi!", "Tell me more"}, pool)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("replies: []\n"), 0o644))
	_, err = LoadPool(empty)
	assert.Error(t, err)

	_, err = LoadPool(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestNew_SelectsVariantByCredentials(t *testing.T) {
	log := zap.NewNop()

	cfg := &config.Config{LLMProvider: config.ProviderOpenAI, OpenAIModel: "gpt-4o", PlaceholderReply: "oops"}
	src, err := New(cfg, llm.NewFactory(cfg), log)
	require.NoError(t, err)
	assert.IsType(t, &Unconfigured{}, src)

	cfg.OpenAIAPIKey = "sk-test"
	cfg.MaxTokens = 100
	src, err = New(cfg, llm.NewFactory(cfg), log)
	require.NoError(t, err)
	configured, ok := src.(*Configured)
	require.True(t, ok)
	assert.Equal(t, "oops", configured.Placeholder)
	assert.Equal(t, 100, configured.Options.MaxTokens)
}

func TestNew_UsesPoolFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("replies: [\"only one\"]\n"), 0o644))

	cfg := &config.Config{LLMProvider: config.ProviderOpenAI, FallbackRepliesPath: path}
	src, err := New(cfg, llm.NewFactory(cfg), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "only one", src.Reply(context.Background(), nil).Text)
}
