package agent

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/cloudwego/eino/schema"
	"github.com/nerdface-ai/browser-agent-go/internals/controller"
	"github.com/nerdface-ai/browser-agent-go/internals/utils"
	"github.com/nerdface-ai/browser-agent-go/pkg/browser"
)

type MessageManagerSettings struct {
	MaxInputTokens     int               `json:"max_input_tokens"`
	ImageTokens        int               `json:"image_tokens"`
	IncludeAttributes  []string          `json:"include_attributes"`
	MessageContext     string            `json:"message_context,omitempty"`
	SensitiveData      map[string]string `json:"sensitive_data"`
	AvailableFilePaths []string          `json:"available_file_paths"`
	MaxErrorLength     int               `json:"max_error_length"`
	TokenCounter       TokenCounter      `json:"-"`
}

type MessageManagerConfig map[string]interface{}

func NewMessageManagerSettings(config MessageManagerConfig) *MessageManagerSettings {
	return &MessageManagerSettings{
		MaxInputTokens:     utils.GetDefaultValue(config, "max_input_tokens", 128000),
		ImageTokens:        utils.GetDefaultValue(config, "image_tokens", 800),
		IncludeAttributes:  utils.GetDefaultValue(config, "include_attributes", []string{}),
		MessageContext:     utils.GetDefaultValue(config, "message_context", ""),
		SensitiveData:      utils.GetDefaultValue(config, "sensitive_data", map[string]string(nil)),
		AvailableFilePaths: utils.GetDefaultValue(config, "available_file_paths", []string(nil)),
		MaxErrorLength:     utils.GetDefaultValue(config, "max_error_length", 400),
		TokenCounter:       utils.GetDefaultValue[TokenCounter](config, "token_counter", NewEstimatedTokenCounter(3)),
	}
}

// MessageManager owns the conversation sent to the model. The system
// message and the task message are pinned at index 0 and 1.
type MessageManager struct {
	Task         string
	SystemPrompt *schema.Message
	Settings     *MessageManagerSettings
	State        *MessageManagerState
}

func NewMessageManager(
	task string,
	systemPrompt *schema.Message,
	settings *MessageManagerSettings,
	state *MessageManagerState,
) *MessageManager {
	if settings == nil {
		settings = NewMessageManagerSettings(MessageManagerConfig{})
	}
	if settings.TokenCounter == nil {
		settings.TokenCounter = NewEstimatedTokenCounter(3)
	}
	if state == nil {
		state = NewMessageManagerState()
	}

	manager := &MessageManager{
		Task:         task,
		SystemPrompt: systemPrompt,
		Settings:     settings,
		State:        state,
	}

	// Only initialize messages if state is empty
	if len(state.History.Messages) == 0 {
		manager.initMessages()
	}
	return manager
}

func (m *MessageManager) initMessages() {
	m.addMessage(m.SystemPrompt, true, messageTypeInit)
	m.addMessage(&schema.Message{Role: schema.User, Content: m.taskContent()}, true, messageTypeInit)
}

// taskContent folds the task context into the pinned task message.
func (m *MessageManager) taskContent() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your ultimate task is: \"\"\"%s\"\"\". ", m.Task)
	sb.WriteString("If you achieved your ultimate task, stop everything and use the done action in the next step to complete the task. If not, continue as usual.")

	if m.Settings.MessageContext != "" {
		fmt.Fprintf(&sb, "\n\nContext for the task: %s", m.Settings.MessageContext)
	}
	if len(m.Settings.SensitiveData) > 0 {
		keys := make([]string, 0, len(m.Settings.SensitiveData))
		for k := range m.Settings.SensitiveData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&sb, "\n\nHere are placeholders for sensitive data: %s", strings.Join(keys, ", "))
		sb.WriteString("\nTo use them, write <secret>the placeholder name</secret>")
	}
	if len(m.Settings.AvailableFilePaths) > 0 {
		fmt.Fprintf(&sb, "\n\nHere are file paths you can use: %s", strings.Join(m.Settings.AvailableFilePaths, ", "))
	}
	return sb.String()
}

// AddNewTask replaces the pinned task and keeps the history.
func (m *MessageManager) AddNewTask(newTask string) {
	m.Task = newTask
	task := m.newManagedMessage(&schema.Message{Role: schema.User, Content: m.taskContent()}, true, messageTypeInit)
	history := m.State.History
	history.RemoveMessage(1)
	history.Messages = slices.Insert(history.Messages, 1, task)
	history.CurrentTokens += task.Metadata.Tokens
}

// AddMessage appends a message. Human messages with inMemory false are
// dropped by the next AddActionResults.
func (m *MessageManager) AddMessage(message *schema.Message, inMemory bool) {
	m.addMessage(message, inMemory, "")
}

func (m *MessageManager) addMessage(message *schema.Message, inMemory bool, messageType string) {
	managed := m.newManagedMessage(message, inMemory, messageType)
	m.State.History.AddMessage(managed.Message, managed.Metadata)
}

func (m *MessageManager) newManagedMessage(message *schema.Message, inMemory bool, messageType string) ManagedMessage {
	message = m.filterSensitiveData(message)
	return ManagedMessage{
		Message: message,
		Metadata: &MessageMetadata{
			Tokens:      m.countTokens(message),
			InMemory:    inMemory,
			MessageType: messageType,
		},
	}
}

// AddModelOutput records the model's decision as an AI message.
func (m *MessageManager) AddModelOutput(output *AgentOutput) {
	m.AddMessage(&schema.Message{
		Role:    schema.Assistant,
		Content: output.ToString(),
	}, true)
}

// AddActionResults drops the one-shot messages of the last step and keeps
// results marked for memory in the history. The other results are only
// shown in the next observation.
func (m *MessageManager) AddActionResults(results []*controller.ActionResult) {
	m.dropOneShotMessages()
	for _, r := range results {
		if !r.IncludeInMemory {
			continue
		}
		if r.ExtractedContent != "" {
			m.AddMessage(&schema.Message{
				Role:    schema.User,
				Content: "Action result: " + r.ExtractedContent,
			}, true)
		}
		if r.Error != "" {
			errStr := strings.TrimSuffix(r.Error, "\n")
			m.AddMessage(&schema.Message{
				Role:    schema.User,
				Content: "Action error: ..." + tail(errStr, m.Settings.MaxErrorLength),
			}, true)
		}
	}
}

func (m *MessageManager) dropOneShotMessages() {
	history := m.State.History
	for i := len(history.Messages) - 1; i >= 2; i-- {
		managed := history.Messages[i]
		if managed.Message.Role == schema.User && !managed.Metadata.InMemory {
			history.RemoveMessage(i)
		}
	}
}

// ComposeObservation renders the browser state with the results that were
// not kept in memory, numbered by their position among all results.
func (m *MessageManager) ComposeObservation(
	state *browser.BrowserState,
	results []*controller.ActionResult,
	stepInfo *AgentStepInfo,
	useVision bool,
) (*schema.Message, error) {
	prompt := NewAgentMessagePrompt(state, results, m.Settings.IncludeAttributes, stepInfo, m.Settings.MaxErrorLength)
	prompt.SkipInMemory = true
	return prompt.GetUserMessage(useVision)
}

// PrepareInput fits the history plus the new observation into the token
// budget and returns the model input. The retained history, without the
// observation, becomes the baseline for the next step.
func (m *MessageManager) PrepareInput(observation *schema.Message) ([]*schema.Message, error) {
	history := m.State.History
	if len(history.Messages) < 2 {
		return nil, fmt.Errorf("message history lost its system or task message")
	}
	budget := m.Settings.MaxInputTokens
	systemTokens := history.Messages[0].Metadata.Tokens
	taskTokens := history.Messages[1].Metadata.Tokens

	if systemTokens > budget {
		return nil, fmt.Errorf("%w: system message needs %d of %d tokens", ErrBudgetOverflow, systemTokens, budget)
	}
	if systemTokens+taskTokens > budget {
		return nil, fmt.Errorf("%w: system and task messages need %d of %d tokens", ErrBudgetOverflow, systemTokens+taskTokens, budget)
	}

	observation = m.filterSensitiveData(observation)
	observationTokens := m.countTokens(observation)

	if systemTokens+taskTokens+observationTokens > budget {
		available := budget - systemTokens - taskTokens
		observation = m.truncateObservation(observation, available)
		observationTokens = m.countTokens(observation)
		history.Truncate(2)
		log.Debugf("observation truncated to %d tokens, history reset to system and task", observationTokens)
	} else {
		for history.CurrentTokens+observationTokens > budget && len(history.Messages)+1 > 3 {
			history.RemoveMessage(2)
		}
	}

	m.State.LastInputTokens = history.CurrentTokens + observationTokens
	input := append(history.GetMessages(), observation)
	for _, msg := range history.Messages {
		log.Debugf("%s - Token count: %d", msg.Message.Role, msg.Metadata.Tokens)
	}
	log.Debugf("Total input tokens: %d / %d", m.State.LastInputTokens, budget)
	return input, nil
}

// truncateObservation drops image parts and keeps the longest text prefix
// whose token count fits into available.
func (m *MessageManager) truncateObservation(observation *schema.Message, available int) *schema.Message {
	text := messageText(observation)
	if m.Settings.TokenCounter.CountTokens(text) <= available {
		return &schema.Message{Role: observation.Role, Content: text}
	}
	runes := []rune(text)
	keep := longestFittingPrefix(runes, available, m.Settings.TokenCounter)
	log.Debugf("Removing %d of %d characters from the observation", len(runes)-keep, len(runes))
	return &schema.Message{Role: observation.Role, Content: string(runes[:keep])}
}

// longestFittingPrefix returns the largest r with tokens(text[:r]) <= available.
func longestFittingPrefix(text []rune, available int, counter TokenCounter) int {
	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.CountTokens(string(text[:mid])) <= available {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

func messageText(message *schema.Message) string {
	if len(message.MultiContent) == 0 {
		return message.Content
	}
	var sb strings.Builder
	sb.WriteString(message.Content)
	for _, part := range message.MultiContent {
		if part.Type == schema.ChatMessagePartTypeText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func (m *MessageManager) countTokens(message *schema.Message) int {
	tokens := 0
	for _, part := range message.MultiContent {
		if part.Type == schema.ChatMessagePartTypeImageURL {
			tokens += m.Settings.ImageTokens
		}
	}
	text := messageText(message)
	for _, call := range message.ToolCalls {
		text += call.Function.Name + call.Function.Arguments
	}
	return tokens + m.Settings.TokenCounter.CountTokens(text)
}

// filterSensitiveData replaces every sensitive value with its placeholder.
func (m *MessageManager) filterSensitiveData(message *schema.Message) *schema.Message {
	if len(m.Settings.SensitiveData) == 0 {
		return message
	}
	keys := make([]string, 0, len(m.Settings.SensitiveData))
	for k, v := range m.Settings.SensitiveData {
		if v != "" {
			keys = append(keys, k)
		}
	}
	// longer values first so overlapping secrets are replaced whole
	sort.Slice(keys, func(i, j int) bool {
		vi, vj := m.Settings.SensitiveData[keys[i]], m.Settings.SensitiveData[keys[j]]
		if len(vi) != len(vj) {
			return len(vi) > len(vj)
		}
		return keys[i] < keys[j]
	})
	replace := func(s string) string {
		for _, k := range keys {
			s = strings.ReplaceAll(s, m.Settings.SensitiveData[k], "<secret>"+k+"</secret>")
		}
		return s
	}

	filtered := *message
	filtered.Content = replace(message.Content)
	if len(message.MultiContent) > 0 {
		filtered.MultiContent = make([]schema.ChatMessagePart, len(message.MultiContent))
		for i, part := range message.MultiContent {
			if part.Type == schema.ChatMessagePartTypeText {
				part.Text = replace(part.Text)
			}
			filtered.MultiContent[i] = part
		}
	}
	return &filtered
}

func (m *MessageManager) GetMessages() []*schema.Message {
	return m.State.History.GetMessages()
}
