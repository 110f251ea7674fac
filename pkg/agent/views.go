package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nerdface-ai/browser-agent-go/internals/controller"
	"github.com/nerdface-ai/browser-agent-go/internals/dom"
	"github.com/nerdface-ai/browser-agent-go/internals/utils"
	"github.com/nerdface-ai/browser-agent-go/pkg/browser"
)

var defaultIncludeAttributes = []string{
	"title",
	"type",
	"name",
	"role",
	"aria-label",
	"placeholder",
	"value",
	"alt",
	"aria-expanded",
	"data-date-format",
}

type AgentSettingsConfig map[string]interface{}

// Options for the agent
type AgentSettings struct {
	UseVision             bool
	SaveConversationPath  string
	MaxFailures           int
	RetryDelay            time.Duration
	MaxInputTokens        int
	ImageTokens           int
	ValidateOutput        bool
	MessageContext        string
	AvailableFilePaths    []string
	OverrideSystemMessage string
	ExtendSystemMessage   string
	IncludeAttributes     []string
	MaxActionsPerStep     int
	MaxErrorLength        int
	WaitBetweenActions    time.Duration
}

/*
NewAgentSettings resolves a config map, e.g.

	NewAgentSettings(AgentSettingsConfig{
		"use_vision": true,
		"max_failures": 5,
		"retry_delay": 2 * time.Second,
		"save_conversation_path": "./logs/conversation",
	})
*/
func NewAgentSettings(config AgentSettingsConfig) *AgentSettings {
	return &AgentSettings{
		UseVision:             utils.GetDefaultValue(config, "use_vision", true),
		SaveConversationPath:  utils.GetDefaultValue(config, "save_conversation_path", ""),
		MaxFailures:           utils.GetDefaultValue(config, "max_failures", 3),
		RetryDelay:            utils.GetDefaultValue(config, "retry_delay", 10*time.Second),
		MaxInputTokens:        utils.GetDefaultValue(config, "max_input_tokens", 128000),
		ImageTokens:           utils.GetDefaultValue(config, "image_tokens", 800),
		ValidateOutput:        utils.GetDefaultValue(config, "validate_output", false),
		MessageContext:        utils.GetDefaultValue(config, "message_context", ""),
		AvailableFilePaths:    utils.GetDefaultValue(config, "available_file_paths", []string(nil)),
		OverrideSystemMessage: utils.GetDefaultValue(config, "override_system_message", ""),
		ExtendSystemMessage:   utils.GetDefaultValue(config, "extend_system_message", ""),
		IncludeAttributes:     utils.GetDefaultValue(config, "include_attributes", defaultIncludeAttributes),
		MaxActionsPerStep:     utils.GetDefaultValue(config, "max_actions_per_step", 10),
		MaxErrorLength:        utils.GetDefaultValue(config, "max_error_length", 400),
		WaitBetweenActions:    utils.GetDefaultValue(config, "wait_between_actions", 500*time.Millisecond),
	}
}

type RunStatus string

const (
	StatusIdle        RunStatus = "idle"
	StatusRunning     RunStatus = "running"
	StatusCompleted   RunStatus = "completed"
	StatusMaxFailures RunStatus = "max_failures"
	StatusMaxSteps    RunStatus = "max_steps"
	StatusStopped     RunStatus = "stopped"
	StatusFailed      RunStatus = "failed"
)

// Holds all state information for an Agent
type AgentState struct {
	AgentId             string
	NSteps              int
	ConsecutiveFailures int
	LastResult          []*controller.ActionResult
	History             *AgentHistoryList
	Status              RunStatus
	MessageManagerState *MessageManagerState
}

func NewAgentState() *AgentState {
	return &AgentState{
		AgentId:             uuid.New().String(),
		NSteps:              1,
		History:             &AgentHistoryList{History: []*AgentHistory{}},
		Status:              StatusIdle,
		MessageManagerState: NewMessageManagerState(),
	}
}

var ErrInvalidStepInfo = errors.New("step info needs a step number below a positive max steps")

type AgentStepInfo struct {
	StepNumber int
	MaxSteps   int
}

func (s *AgentStepInfo) Validate() error {
	if s.MaxSteps <= 0 || s.StepNumber < 0 || s.StepNumber >= s.MaxSteps {
		return fmt.Errorf("%w: step %d of %d", ErrInvalidStepInfo, s.StepNumber, s.MaxSteps)
	}
	return nil
}

// Check if this is the last step
func (s *AgentStepInfo) IsLastStep() bool {
	return s.StepNumber >= s.MaxSteps-1
}

// Current state of the agent
type AgentBrain struct {
	EvaluationPreviousGoal string `json:"evaluation_previous_goal" jsonschema:"description=Success|Failed|Unknown - analyze the previous goal against the current page,required"`
	Memory                 string `json:"memory" jsonschema:"description=What has been done and what to remember,required"`
	NextGoal               string `json:"next_goal" jsonschema:"description=What needs to be done with the next immediate action,required"`
}

// AgentOutput is the decision the model returns through the AgentOutput tool.
type AgentOutput struct {
	CurrentState *AgentBrain          `json:"current_state"`
	Action       []controller.ActModel `json:"action"`
}

func (o *AgentOutput) ToString() string {
	s, err := utils.StringifyJSON(o)
	if err != nil {
		return ""
	}
	return s
}

type StepMetadata struct {
	StepNumber    int       `json:"step_number"`
	StepStartTime time.Time `json:"step_start_time"`
	StepEndTime   time.Time `json:"step_end_time"`
	InputTokens   int       `json:"input_tokens"`
}

func (m *StepMetadata) DurationSeconds() float64 {
	return m.StepEndTime.Sub(m.StepStartTime).Seconds()
}

// History item for agent actions
type AgentHistory struct {
	ModelOutput *AgentOutput                 `json:"model_output"`
	Result      []*controller.ActionResult   `json:"result"`
	State       *browser.BrowserStateHistory `json:"state"`
	Metadata    *StepMetadata                `json:"metadata,omitempty"`
}

// GetInteractedElement maps every action of the output to the element it
// targets, or nil when the action has no index.
func GetInteractedElement(modelOutput *AgentOutput, selectorMap dom.SelectorMap) []*dom.DOMHistoryElement {
	processor := dom.HistoryTreeProcessor{}
	elements := make([]*dom.DOMHistoryElement, 0, len(modelOutput.Action))
	for _, action := range modelOutput.Action {
		index := action.GetIndex()
		if index == nil {
			elements = append(elements, nil)
			continue
		}
		el, ok := selectorMap[*index]
		if !ok {
			elements = append(elements, nil)
			continue
		}
		elements = append(elements, processor.ConvertDomElementToHistoryElement(el))
	}
	return elements
}

// List of agent history items
type AgentHistoryList struct {
	History []*AgentHistory `json:"history"`
}

// LastResult returns the last action result of the last step.
func (l *AgentHistoryList) LastResult() *controller.ActionResult {
	if len(l.History) == 0 {
		return nil
	}
	results := l.History[len(l.History)-1].Result
	if len(results) == 0 {
		return nil
	}
	return results[len(results)-1]
}

func (l *AgentHistoryList) IsDone() bool {
	last := l.LastResult()
	return last != nil && last.IsDone
}

// IsSuccessful is nil until the agent is done.
func (l *AgentHistoryList) IsSuccessful() *bool {
	last := l.LastResult()
	if last == nil || !last.IsDone {
		return nil
	}
	return last.Success
}

func (l *AgentHistoryList) FinalResult() *string {
	last := l.LastResult()
	if last == nil || last.ExtractedContent == "" {
		return nil
	}
	content := last.ExtractedContent
	return &content
}

// Errors returns one entry per step: the step's first error or "".
func (l *AgentHistoryList) Errors() []string {
	errs := make([]string, 0, len(l.History))
	for _, h := range l.History {
		stepErr := ""
		for _, r := range h.Result {
			if r.Error != "" {
				stepErr = r.Error
				break
			}
		}
		errs = append(errs, stepErr)
	}
	return errs
}

func (l *AgentHistoryList) HasErrors() bool {
	for _, e := range l.Errors() {
		if e != "" {
			return true
		}
	}
	return false
}

func (l *AgentHistoryList) Urls() []string {
	urls := make([]string, 0, len(l.History))
	for _, h := range l.History {
		if h.State != nil {
			urls = append(urls, h.State.Url)
		} else {
			urls = append(urls, "")
		}
	}
	return urls
}

func (l *AgentHistoryList) TotalInputTokens() int {
	total := 0
	for _, h := range l.History {
		if h.Metadata != nil {
			total += h.Metadata.InputTokens
		}
	}
	return total
}

func (l *AgentHistoryList) TotalDurationSeconds() float64 {
	total := 0.0
	for _, h := range l.History {
		if h.Metadata != nil {
			total += h.Metadata.DurationSeconds()
		}
	}
	return total
}

// SaveToFile writes the history as indented JSON.
func (l *AgentHistoryList) SaveToFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := utils.IndentJSON(l)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(data), 0o644)
}
