package analytics

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convo-chat/internal/storage"
)

func TestAnalyzeDailyLogs(t *testing.T) {
	testDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	events := []storage.Event{
		{
			Timestamp:         testDate.Add(2 * time.Hour),
			ConversationID:    1,
			UserMessage:       "hello",
			AssistantResponse: "Hello there!",
			Source:            storage.ReplyFallback,
		},
		{
			Timestamp:         testDate.Add(4 * time.Hour),
			ConversationID:    1,
			UserMessage:       "how are you",
			AssistantResponse: "Fine.",
			Source:            storage.ReplyGenerated,
		},
		{
			Timestamp:         testDate.Add(6 * time.Hour),
			ConversationID:    2,
			UserMessage:       "anyone?",
			AssistantResponse: "Oops! GPT error occurred.",
			Source:            storage.ReplyPlaceholder,
		},
		// next day
		{
			Timestamp:      testDate.AddDate(0, 0, 1),
			ConversationID: 3,
			UserMessage:    "tomorrow",
		},
		// no user message
		{
			Timestamp:         testDate.Add(8 * time.Hour),
			ConversationID:    1,
			AssistantResponse: "[system]",
		},
	}

	stats := AnalyzeDailyLogs(events, testDate.Add(13*time.Hour))

	assert.Equal(t, "2024-01-15", stats.Date)
	assert.Equal(t, 3, stats.Exchanges)
	assert.Equal(t, 2, stats.UniqueConversations)
	assert.Equal(t, map[storage.ReplySource]int{
		storage.ReplyFallback:    1,
		storage.ReplyGenerated:   1,
		storage.ReplyPlaceholder: 1,
	}, stats.BySource)
	assert.Equal(t, ConversationStats{ConversationID: 1, Exchanges: 2}, stats.Conversations[1])
	assert.Equal(t, ConversationStats{ConversationID: 2, Exchanges: 1, Placeholders: 1}, stats.Conversations[2])
	assert.InDelta(t, 1.0/3.0, stats.FailureRate(), 1e-9)
}

func TestAnalyzeDailyLogs_LegacyEventsCountAsGenerated(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	stats := AnalyzeDailyLogs([]storage.Event{
		{Timestamp: day.Add(time.Hour), ConversationID: 9, UserMessage: "hi"},
	}, day)
	assert.Equal(t, 1, stats.BySource[storage.ReplyGenerated])
}

func TestAnalyzeDailyLogsEmptyData(t *testing.T) {
	testDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	stats := AnalyzeDailyLogs(nil, testDate)

	assert.Equal(t, "2024-01-15", stats.Date)
	assert.Zero(t, stats.Exchanges)
	assert.Zero(t, stats.UniqueConversations)
	assert.Zero(t, stats.FailureRate())
	assert.NotNil(t, stats.BySource)
	assert.NotNil(t, stats.Conversations)
}

func TestGenerateReportSummary(t *testing.T) {
	stats := &DailyStats{
		Date:                "2024-01-15",
		Exchanges:           4,
		UniqueConversations: 2,
		BySource: map[storage.ReplySource]int{
			storage.ReplyGenerated:   3,
			storage.ReplyPlaceholder: 1,
		},
		Conversations: map[int64]ConversationStats{
			7: {ConversationID: 7, Exchanges: 1, Placeholders: 1},
			3: {ConversationID: 3, Exchanges: 3},
		},
	}

	summary := stats.GenerateReportSummary()
	for _, want := range []string{
		"Chat activity for 2024-01-15",
		"- Exchanges: 4",
		"- Conversations: 2",
		"- Backend failures: 1 (25.0%)",
		"- generated: 3",
		"- placeholder: 1",
		"- #7: 1 exchanges, 1 failed",
	} {
		assert.Contains(t, summary, want)
	}
	assert.Less(t, strings.Index(summary, "#3:"), strings.Index(summary, "#7:"), "busiest conversation first")
}

func TestToJSON(t *testing.T) {
	stats := AnalyzeDailyLogs([]storage.Event{{
		Timestamp:      time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		ConversationID: 4,
		UserMessage:    "hi",
		Source:         storage.ReplyFallback,
	}}, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))

	out, err := stats.ToJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "2024-01-15", decoded["date"])
	assert.EqualValues(t, 1, decoded["exchanges"])
}

type stubRecorder struct {
	events []storage.Event
	err    error
}

func (s stubRecorder) AppendInteraction(storage.Event) error { return nil }

func (s stubRecorder) LoadInteractions() ([]storage.Event, error) { return s.events, s.err }

func TestDaily(t *testing.T) {
	now := time.Date(2024, 5, 2, 21, 0, 0, 0, time.UTC)
	rec := stubRecorder{events: []storage.Event{
		{Timestamp: now.Add(-time.Hour), ConversationID: 1, UserMessage: "a"},
		{Timestamp: now.Add(-24 * time.Hour), ConversationID: 2, UserMessage: "b"},
	}}

	stats, err := Daily(rec, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Exchanges)

	_, err = Daily(stubRecorder{err: errors.New("disk gone")}, now)
	assert.Error(t, err)
}
