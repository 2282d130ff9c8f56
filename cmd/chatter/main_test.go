package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"convo-chat/internal/config"
	"convo-chat/internal/storage"
)

func setTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "chat.db"))
	t.Setenv("USERS_FILE_PATH", filepath.Join(dir, "users.json"))
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { messagesJSON = false })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestMessagesCommand(t *testing.T) {
	dir := setTestEnv(t)

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "chat.db"), zap.NewNop())
	require.NoError(t, err)
	conv, err := store.CreateConversation(context.Background(), nil)
	require.NoError(t, err)
	_, _, err = store.AppendExchange(context.Background(), conv.ID, "hello", "Hello there!")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := runRoot(t, "messages", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] user: hello")
	assert.Contains(t, out, "[2] bot: Hello there!")

	out, err = runRoot(t, "messages", "--json", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"sender":"user","content":"hello"},{"id":2,"sender":"bot","content":"Hello there!"}]`, out)
}

func TestMessagesCommand_RejectsNonInteger(t *testing.T) {
	setTestEnv(t)
	_, err := runRoot(t, "messages", "abc")
	assert.Error(t, err)
}

func TestBootstrap_SeedsDefaultIdentity(t *testing.T) {
	setTestEnv(t)
	a, err := bootstrap(context.Background())
	require.NoError(t, err)
	defer a.close()

	u, err := a.identities.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name)

	id, err := a.registry.CreateConversation(context.Background())
	require.NoError(t, err)
	conv, err := a.store.GetConversation(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, conv.OwnerID)
	assert.Equal(t, u.ID, *conv.OwnerID)
}

func TestOpenStore_Drivers(t *testing.T) {
	for _, driver := range []config.StoreDriver{config.DriverSQLite, config.DriverBolt, config.DriverMemory} {
		t.Run(string(driver), func(t *testing.T) {
			dir := t.TempDir()
			cfg := &config.Config{
				StoreDriver:   driver,
				DatabasePath:  filepath.Join(dir, "chat.db"),
				BoltPath:      filepath.Join(dir, "chat.bolt"),
				UsersFilePath: filepath.Join(dir, "users.json"),
			}
			store, users, err := openStore(cfg, zap.NewNop())
			require.NoError(t, err)
			defer store.Close()
			assert.NotNil(t, users)

			conv, err := store.CreateConversation(context.Background(), nil)
			require.NoError(t, err)
			assert.Positive(t, conv.ID)
		})
	}

	_, _, err := openStore(&config.Config{StoreDriver: "postgres"}, zap.NewNop())
	assert.Error(t, err)
}

func TestDailyReport_LogsStats(t *testing.T) {
	rec, err := storage.NewFileRecorder(filepath.Join(t.TempDir(), "exchanges.jsonl"))
	require.NoError(t, err)
	require.NoError(t, rec.AppendInteraction(storage.Event{
		Timestamp:         time.Now().UTC(),
		ConversationID:    3,
		UserMessage:       "hello",
		AssistantResponse: "Oops! GPT error occurred.",
		Source:            storage.ReplyPlaceholder,
	}))

	core, logs := observer.New(zap.DebugLevel)
	require.NoError(t, dailyReport(rec, zap.New(core))(context.Background()))

	summary := logs.FilterMessage("daily report").All()
	require.Len(t, summary, 1)
	assert.EqualValues(t, 1, summary[0].ContextMap()["exchanges"])
	assert.InDelta(t, 1.0, summary[0].ContextMap()["failure_rate"], 1e-9)

	details := logs.FilterMessage("daily report details").All()
	require.Len(t, details, 1)
	assert.Contains(t, details[0].ContextMap()["stats"], `"placeholders": 1`)
}
