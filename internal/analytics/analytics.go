// Package analytics summarises the exchange log.
package analytics

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"convo-chat/internal/storage"
)

// DailyStats is the activity of one UTC day.
type DailyStats struct {
	Date                string                      `json:"date"`
	Exchanges           int                         `json:"exchanges"`
	UniqueConversations int                         `json:"unique_conversations"`
	BySource            map[storage.ReplySource]int `json:"by_source"`
	Conversations       map[int64]ConversationStats `json:"conversations"`
}

type ConversationStats struct {
	ConversationID int64 `json:"conversation_id"`
	Exchanges      int   `json:"exchanges"`
	Placeholders   int   `json:"placeholders"`
}

// AnalyzeDailyLogs counts the exchanges recorded on targetDate.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	stats := &DailyStats{
		Date:          startOfDay.Format("2006-01-02"),
		BySource:      make(map[storage.ReplySource]int),
		Conversations: make(map[int64]ConversationStats),
	}

	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		if event.UserMessage == "" {
			continue
		}

		stats.Exchanges++
		source := event.Source
		if source == "" {
			source = storage.ReplyGenerated
		}
		stats.BySource[source]++

		cs := stats.Conversations[event.ConversationID]
		cs.ConversationID = event.ConversationID
		cs.Exchanges++
		if source == storage.ReplyPlaceholder {
			cs.Placeholders++
		}
		stats.Conversations[event.ConversationID] = cs
	}

	stats.UniqueConversations = len(stats.Conversations)
	return stats
}

// FailureRate is the share of exchanges answered with the placeholder.
func (ds *DailyStats) FailureRate() float64 {
	if ds.Exchanges == 0 {
		return 0
	}
	return float64(ds.BySource[storage.ReplyPlaceholder]) / float64(ds.Exchanges)
}

// GenerateReportSummary renders the stats as plain text, busiest
// conversations first.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chat activity for %s:\n\n", ds.Date)
	fmt.Fprintf(&b, "- Exchanges: %d\n", ds.Exchanges)
	fmt.Fprintf(&b, "- Conversations: %d\n", ds.UniqueConversations)
	fmt.Fprintf(&b, "- Backend failures: %d (%.1f%%)\n\n", ds.BySource[storage.ReplyPlaceholder], ds.FailureRate()*100)

	if len(ds.BySource) > 0 {
		b.WriteString("Replies by source:\n")
		sources := make([]storage.ReplySource, 0, len(ds.BySource))
		for s := range ds.BySource {
			sources = append(sources, s)
		}
		slices.Sort(sources)
		for _, s := range sources {
			fmt.Fprintf(&b, "- %s: %d\n", s, ds.BySource[s])
		}
		b.WriteString("\n")
	}

	convs := make([]ConversationStats, 0, len(ds.Conversations))
	for _, cs := range ds.Conversations {
		convs = append(convs, cs)
	}
	slices.SortFunc(convs, func(a, b ConversationStats) int {
		if a.Exchanges != b.Exchanges {
			return b.Exchanges - a.Exchanges
		}
		return cmp.Compare(a.ConversationID, b.ConversationID)
	})

	fmt.Fprintf(&b, "Conversations (%d):\n", len(convs))
	for _, cs := range convs {
		fmt.Fprintf(&b, "- #%d: %d exchanges", cs.ConversationID, cs.Exchanges)
		if cs.Placeholders > 0 {
			fmt.Fprintf(&b, ", %d failed", cs.Placeholders)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Daily loads the recorder's log and analyses the day containing now.
func Daily(rec storage.Recorder, now time.Time) (*DailyStats, error) {
	events, err := rec.LoadInteractions()
	if err != nil {
		return nil, fmt.Errorf("load exchange log: %w", err)
	}
	return AnalyzeDailyLogs(events, now.UTC()), nil
}
