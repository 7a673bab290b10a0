package agent

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zapa-app/zapa/internal/llm"
	"github.com/zapa-app/zapa/internal/storage"
)

// Tool names are part of the wire contract; renaming one is a breaking
// change. The tests refer to them through these constants, so they do not
// pin the string values.
const (
	ToolSearchMessages       = "search_messages"
	ToolGetRecentMessages    = "get_recent_messages"
	ToolSummarizeChat        = "summarize_chat"
	ToolExtractTasks         = "extract_tasks"
	ToolGetConversationStats = "get_conversation_stats"
)

// toolDeps is the implicit (user, storage) context every tool
// implementation closes over.
type toolDeps struct {
	store    *storage.Store
	userID   uuid.UUID
	provider llm.Provider
	settings llm.Settings
}

func toolSet() []llm.Tool {
	return []llm.Tool{
		{
			Name:        ToolSearchMessages,
			Description: "Search the user's message history for a substring match.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string"},
					"limit": map[string]interface{}{"type": "integer", "default": 10},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolGetRecentMessages,
			Description: "Fetch the most recent messages in the conversation, chronological order.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"count": map[string]interface{}{"type": "integer", "default": 20},
				},
			},
		},
		{
			Name:        ToolSummarizeChat,
			Description: "Summarize the last N messages of the conversation.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"last_n": map[string]interface{}{"type": "integer", "default": 50},
				},
			},
		},
		{
			Name:        ToolExtractTasks,
			Description: "Extract action items mentioned in the last N messages.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"last_n": map[string]interface{}{"type": "integer", "default": 100},
				},
			},
		},
		{
			Name:        ToolGetConversationStats,
			Description: "Get aggregate statistics about the conversation.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// executeTool dispatches one tool call and returns its JSON-encoded
// result, always returning valid JSON even on failure so the tool-result
// message round-trips cleanly through every provider's wire format.
func executeTool(ctx context.Context, deps toolDeps, call llm.ToolCall) string {
	var result interface{}
	var err error

	switch call.Name {
	case ToolSearchMessages:
		result, err = toolSearchMessages(ctx, deps, call.Arguments)
	case ToolGetRecentMessages:
		result, err = toolGetRecentMessages(ctx, deps, call.Arguments)
	case ToolSummarizeChat:
		result, err = toolSummarizeChat(ctx, deps, call.Arguments)
	case ToolExtractTasks:
		result, err = toolExtractTasks(ctx, deps, call.Arguments)
	case ToolGetConversationStats:
		result, err = toolGetConversationStats(ctx, deps)
	default:
		err = errUnknownTool(call.Name)
	}

	if err != nil {
		log.Warn().Err(err).Str("tool", call.Name).Msg("agent: tool execution failed")
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(b)
	}
	b, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return `{"error":"failed to encode tool result"}`
	}
	return string(b)
}

func errUnknownTool(name string) error {
	return &unknownToolError{name: name}
}

type unknownToolError struct{ name string }

func (e *unknownToolError) Error() string { return "unknown tool: " + e.name }

type messageView struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

func toView(m storage.Message) messageView {
	content := ""
	if m.Content != nil {
		content = *m.Content
	}
	sender := "user"
	if m.Direction == storage.DirectionOutgoing {
		sender = "assistant"
	}
	return messageView{ID: m.ID, Content: content, Sender: sender, Timestamp: m.Timestamp}
}

func toolSearchMessages(ctx context.Context, deps toolDeps, argsJSON string) (interface{}, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, err
	}
	if args.Limit <= 0 {
		args.Limit = 10
	}
	msgs, err := deps.store.Messages().Search(ctx, deps.userID, args.Query, args.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toView(m))
	}
	return out, nil
}

func toolGetRecentMessages(ctx context.Context, deps toolDeps, argsJSON string) (interface{}, error) {
	var args struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal([]byte(argsJSON), &args)
	if args.Count <= 0 {
		args.Count = 20
	}
	msgs, err := deps.store.Messages().Recent(ctx, deps.userID, args.Count)
	if err != nil {
		return nil, err
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toView(m))
	}
	return out, nil
}

// toolSummarizeChat may itself call the provider, at most once; it never
// re-enters the outer tool loop's round budget.
func toolSummarizeChat(ctx context.Context, deps toolDeps, argsJSON string) (interface{}, error) {
	var args struct {
		LastN int `json:"last_n"`
	}
	_ = json.Unmarshal([]byte(argsJSON), &args)
	if args.LastN <= 0 {
		args.LastN = 50
	}
	msgs, err := deps.store.Messages().Recent(ctx, deps.userID, args.LastN)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return map[string]interface{}{
			"summary":       "No messages yet.",
			"message_count": 0,
			"date_range":    []string{},
			"key_topics":    []string{},
		}, nil
	}

	var transcript strings.Builder
	for _, m := range msgs {
		view := toView(m)
		transcript.WriteString(view.Sender)
		transcript.WriteString(": ")
		transcript.WriteString(view.Content)
		transcript.WriteString("\n")
	}

	summary := transcript.String()
	if deps.provider != nil {
		resp, err := deps.provider.ChatWithTools(ctx, []llm.Message{
			{Role: llm.RoleSystem, Content: "Summarize the following conversation in two or three sentences."},
			{Role: llm.RoleUser, Content: transcript.String()},
		}, nil, deps.settings)
		if err == nil && resp.Content != "" {
			summary = resp.Content
		}
	}

	return map[string]interface{}{
		"summary":       summary,
		"message_count": len(msgs),
		"date_range":    []time.Time{msgs[0].Timestamp, msgs[len(msgs)-1].Timestamp},
		"key_topics":    extractKeyTopics(msgs),
	}, nil
}

// extractKeyTopics is a crude frequency count: the most common words
// longer than 4 characters across the transcript.
func extractKeyTopics(msgs []storage.Message) []string {
	counts := make(map[string]int)
	for _, m := range msgs {
		if m.Content == nil {
			continue
		}
		for _, word := range strings.Fields(strings.ToLower(*m.Content)) {
			word = strings.Trim(word, ".,!?;:\"'")
			if len(word) > 4 {
				counts[word]++
			}
		}
	}
	type pair struct {
		word  string
		count int
	}
	pairs := make([]pair, 0, len(counts))
	for w, c := range counts {
		pairs = append(pairs, pair{w, c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].word < pairs[j].word
	})
	limit := 5
	if len(pairs) < limit {
		limit = len(pairs)
	}
	out := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, pairs[i].word)
	}
	return out
}

type taskView struct {
	Task        string    `json:"task"`
	MentionedAt time.Time `json:"mentioned_at"`
	Priority    string    `json:"priority"`
	Completed   bool      `json:"completed"`
}

var taskMarkers = []string{"todo", "need to", "remind me", "don't forget", "have to", "must"}

// toolExtractTasks flags any incoming message containing a task marker
// phrase. Deliberately cheap; a model call here would double the cost of
// every tool round that uses it.
func toolExtractTasks(ctx context.Context, deps toolDeps, argsJSON string) (interface{}, error) {
	var args struct {
		LastN int `json:"last_n"`
	}
	_ = json.Unmarshal([]byte(argsJSON), &args)
	if args.LastN <= 0 {
		args.LastN = 100
	}
	msgs, err := deps.store.Messages().Recent(ctx, deps.userID, args.LastN)
	if err != nil {
		return nil, err
	}

	var tasks []taskView
	for _, m := range msgs {
		if m.Content == nil || m.Direction != storage.DirectionIncoming {
			continue
		}
		lower := strings.ToLower(*m.Content)
		for _, marker := range taskMarkers {
			if strings.Contains(lower, marker) {
				tasks = append(tasks, taskView{
					Task:        strings.TrimSpace(*m.Content),
					MentionedAt: m.Timestamp,
					Priority:    "normal",
					Completed:   false,
				})
				break
			}
		}
	}
	if tasks == nil {
		tasks = []taskView{}
	}
	return tasks, nil
}

func toolGetConversationStats(ctx context.Context, deps toolDeps) (interface{}, error) {
	stats, err := deps.store.Messages().Stats(ctx, deps.userID)
	if err != nil {
		return nil, err
	}
	dateRange := []*time.Time{stats.FirstAt, stats.LastAt}
	return map[string]interface{}{
		"total":       stats.Total,
		"user":        stats.Incoming,
		"assistant":   stats.Outgoing,
		"date_range":  dateRange,
		"avg_per_day": stats.AvgPerDay,
	}, nil
}
