package agent

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/nerdface-ai/browser-agent-go/internals/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// one token per character keeps the budget arithmetic readable
func newTestMessageManager(budget int, config MessageManagerConfig) *MessageManager {
	if config == nil {
		config = MessageManagerConfig{}
	}
	config["max_input_tokens"] = budget
	config["token_counter"] = TokenCounter(NewEstimatedTokenCounter(1))
	if _, ok := config["image_tokens"]; !ok {
		config["image_tokens"] = 50
	}
	return NewMessageManager(
		"find the price",
		&schema.Message{Role: schema.System, Content: strings.Repeat("S", 100)},
		NewMessageManagerSettings(config),
		nil,
	)
}

func userMessage(content string) *schema.Message {
	return &schema.Message{Role: schema.User, Content: content}
}

func TestNewMessageManager(t *testing.T) {
	mm := newTestMessageManager(10000, MessageManagerConfig{
		"message_context":      "prices are in EUR",
		"sensitive_data":       map[string]string{"user": "alice", "pass": "hunter2"},
		"available_file_paths": []string{"/tmp/a.pdf", "/tmp/b.pdf"},
	})

	msgs := mm.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, schema.User, msgs[1].Role)

	task := msgs[1].Content
	assert.Contains(t, task, `Your ultimate task is: """find the price""".`)
	assert.Contains(t, task, "Context for the task: prices are in EUR")
	assert.Contains(t, task, "Here are placeholders for sensitive data: pass, user")
	assert.Contains(t, task, "write <secret>the placeholder name</secret>")
	assert.Contains(t, task, "Here are file paths you can use: /tmp/a.pdf, /tmp/b.pdf")

	assert.Equal(t, 100+len(task), mm.State.History.GetTotalTokens())
}

func TestNewMessageManagerKeepsInjectedState(t *testing.T) {
	state := NewMessageManagerState()
	state.History.AddMessage(userMessage("system"), &MessageMetadata{Tokens: 1, InMemory: true})
	state.History.AddMessage(userMessage("task"), &MessageMetadata{Tokens: 1, InMemory: true})
	state.History.AddMessage(userMessage("old"), &MessageMetadata{Tokens: 1, InMemory: true})

	mm := NewMessageManager("new", &schema.Message{Role: schema.System, Content: "x"}, nil, state)
	assert.Len(t, mm.GetMessages(), 3)
}

func TestAddNewTask(t *testing.T) {
	mm := newTestMessageManager(10000, nil)
	mm.AddMessage(userMessage("history"), true)

	mm.AddNewTask("find the shipping cost")
	msgs := mm.GetMessages()
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[1].Content, "find the shipping cost")
	assert.Equal(t, "history", msgs[2].Content)

	total := 0
	for _, m := range mm.State.History.Messages {
		total += m.Metadata.Tokens
	}
	assert.Equal(t, total, mm.State.History.GetTotalTokens())
}

func TestAddActionResults(t *testing.T) {
	mm := newTestMessageManager(10000, MessageManagerConfig{"max_error_length": 5})
	mm.AddMessage(userMessage("For this page, these additional actions are available"), false)
	mm.AddModelOutput(&AgentOutput{
		CurrentState: &AgentBrain{NextGoal: "click"},
		Action:       []controller.ActModel{{"click_element": map[string]interface{}{"index": 1}}},
	})

	mm.AddActionResults([]*controller.ActionResult{
		{ExtractedContent: "kept", IncludeInMemory: true},
		{ExtractedContent: "next observation only"},
		{Error: "something went wrong\n", IncludeInMemory: true},
	})

	msgs := mm.GetMessages()
	require.Len(t, msgs, 5)
	assert.Equal(t, schema.Assistant, msgs[2].Role)
	assert.Contains(t, msgs[2].Content, `"click_element"`)
	assert.Equal(t, "Action result: kept", msgs[3].Content)
	assert.Equal(t, "Action error: ...wrong", msgs[4].Content)
}

func TestComposeObservationShowsOnlyPendingResults(t *testing.T) {
	fixedNow(t)
	mm := newTestMessageManager(10000, nil)

	msg, err := mm.ComposeObservation(pageState("https://example.com"), []*controller.ActionResult{
		{ExtractedContent: "in memory", IncludeInMemory: true},
		{ExtractedContent: "pending"},
		{Error: "kept error", IncludeInMemory: true},
		{Error: "late error"},
	}, nil, false)
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "\nAction result 2/4: pending")
	assert.Contains(t, msg.Content, "\nAction error 4/4: ...late error")
	assert.NotContains(t, msg.Content, "in memory")
	assert.NotContains(t, msg.Content, "kept error")
	assert.NotContains(t, msg.Content, "1/4")
	assert.NotContains(t, msg.Content, "3/4")
}

func TestSensitiveDataIsFiltered(t *testing.T) {
	mm := newTestMessageManager(10000, MessageManagerConfig{
		"sensitive_data": map[string]string{"pass": "hunter2", "long_pass": "hunter22"},
	})
	mm.AddMessage(&schema.Message{
		Role:    schema.Assistant,
		Content: `{"input_text":{"text":"hunter2"}} and hunter22`,
	}, true)
	assert.Equal(t, `{"input_text":{"text":"<secret>pass</secret>"}} and <secret>long_pass</secret>`, mm.GetMessages()[2].Content)

	input, err := mm.PrepareInput(&schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: "typed hunter2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "typed <secret>pass</secret>", input[len(input)-1].MultiContent[0].Text)
}

func TestCountTokens(t *testing.T) {
	mm := newTestMessageManager(10000, MessageManagerConfig{"image_tokens": 800})
	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: "twelve chars"},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: "data:image/png;base64,xxxx"}},
		},
	}
	assert.Equal(t, 812, mm.countTokens(msg))

	call := &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			Function: schema.FunctionCall{Name: "AgentOutput", Arguments: "{}"},
		}},
	}
	assert.Equal(t, len("AgentOutput{}"), mm.countTokens(call))
}

func TestPrepareInput(t *testing.T) {
	t.Run("system message over budget", func(t *testing.T) {
		mm := newTestMessageManager(99, nil)
		_, err := mm.PrepareInput(userMessage("obs"))
		assert.ErrorIs(t, err, ErrBudgetOverflow)
	})

	t.Run("system and task over budget", func(t *testing.T) {
		mm := newTestMessageManager(110, nil)
		_, err := mm.PrepareInput(userMessage("obs"))
		assert.ErrorIs(t, err, ErrBudgetOverflow)
	})

	t.Run("fits without changes", func(t *testing.T) {
		mm := newTestMessageManager(10000, nil)
		mm.AddMessage(userMessage("old"), true)
		input, err := mm.PrepareInput(userMessage("obs"))
		require.NoError(t, err)
		require.Len(t, input, 4)
		assert.Equal(t, "obs", input[3].Content)
		assert.Len(t, mm.GetMessages(), 3)
		assert.Equal(t, mm.State.History.GetTotalTokens()+3, mm.State.LastInputTokens)
	})

	t.Run("evicts oldest history first", func(t *testing.T) {
		mm := newTestMessageManager(10000, nil)
		base := mm.State.History.GetTotalTokens()
		for i := 0; i < 4; i++ {
			mm.AddMessage(userMessage(fmt.Sprintf("history-%d-%s", i, strings.Repeat("x", 88))), true)
		}
		// room for two history messages next to a 100 token observation
		mm.Settings.MaxInputTokens = base + 2*100 + 100

		input, err := mm.PrepareInput(userMessage(strings.Repeat("o", 100)))
		require.NoError(t, err)
		require.Len(t, input, 5)
		assert.Equal(t, schema.System, input[0].Role)
		assert.Contains(t, input[1].Content, "find the price")
		assert.True(t, strings.HasPrefix(input[2].Content, "history-2-"))
		assert.True(t, strings.HasPrefix(input[3].Content, "history-3-"))
		assert.LessOrEqual(t, mm.State.LastInputTokens, mm.Settings.MaxInputTokens)
	})

	t.Run("truncates the observation and drops history", func(t *testing.T) {
		mm := newTestMessageManager(10000, nil)
		mm.AddMessage(userMessage("old history"), true)
		base := mm.State.History.Messages[0].Metadata.Tokens + mm.State.History.Messages[1].Metadata.Tokens
		mm.Settings.MaxInputTokens = base + 40

		shot := &schema.Message{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: strings.Repeat("a", 30) + strings.Repeat("b", 30)},
				{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: "data:image/png;base64,xx"}},
			},
		}
		input, err := mm.PrepareInput(shot)
		require.NoError(t, err)
		require.Len(t, input, 3)
		last := input[2]
		assert.Empty(t, last.MultiContent)
		assert.Equal(t, strings.Repeat("a", 30)+strings.Repeat("b", 10), last.Content)
		assert.Len(t, mm.GetMessages(), 2)
		assert.Equal(t, mm.Settings.MaxInputTokens, mm.State.LastInputTokens)
	})
}

func TestLongestFittingPrefixProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := []rune(rapid.StringN(0, 300, -1).Draw(t, "text"))
		counter := NewEstimatedTokenCounter(rapid.IntRange(1, 5).Draw(t, "charsPerToken"))
		available := rapid.IntRange(0, 120).Draw(t, "available")

		r := longestFittingPrefix(text, available, counter)
		if r < 0 || r > len(text) {
			t.Fatalf("prefix length %d outside [0, %d]", r, len(text))
		}
		if got := counter.CountTokens(string(text[:r])); got > available {
			t.Fatalf("prefix of %d runes needs %d tokens, only %d available", r, got, available)
		}
		if r < len(text) {
			if got := counter.CountTokens(string(text[:r+1])); got <= available {
				t.Fatalf("prefix of %d runes also fits (%d tokens)", r+1, got)
			}
		}
	})
}

func TestEvictionNeverDropsPinnedMessages(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sizes := rapid.SliceOfN(rapid.IntRange(1, 200), 0, 12).Draw(t, "history")
		observation := rapid.IntRange(0, 300).Draw(t, "observation")
		extra := rapid.IntRange(0, 2000).Draw(t, "extra")
		smaller := rapid.IntRange(0, extra).Draw(t, "smaller")

		retained := func(budgetExtra int) ([]*schema.Message, error) {
			mm := newTestMessageManager(1, nil)
			for i, size := range sizes {
				mm.AddMessage(userMessage(fmt.Sprintf("%02d", i)+strings.Repeat("h", size)), true)
			}
			mm.Settings.MaxInputTokens = mm.State.History.Messages[0].Metadata.Tokens +
				mm.State.History.Messages[1].Metadata.Tokens + budgetExtra
			input, err := mm.PrepareInput(userMessage(strings.Repeat("o", observation)))
			if err != nil {
				return nil, err
			}
			if len(input) < 3 || input[0].Role != schema.System || !strings.Contains(input[1].Content, "find the price") {
				t.Fatalf("pinned messages lost: %d messages", len(input))
			}
			return input, nil
		}

		large, err := retained(extra)
		if err != nil {
			t.Fatal(err)
		}
		small, err := retained(smaller)
		if err != nil {
			t.Fatal(err)
		}
		if len(small) > len(large) {
			t.Fatalf("smaller budget kept %d messages, larger kept %d", len(small), len(large))
		}
	})
}
