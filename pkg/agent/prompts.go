package agent

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/nerdface-ai/browser-agent-go/internals/controller"
	"github.com/nerdface-ai/browser-agent-go/pkg/browser"
)

//go:embed system_prompt.md
var systemPromptTemplate string

// now is replaced in tests.
var now = time.Now

type SystemPrompt struct {
	SystemMessage     *schema.Message
	MaxActionsPerStep int
}

func NewSystemPrompt(
	maxActionsPerStep int,
	overrideSystemMessage string,
	extendSystemMessage string,
) *SystemPrompt {
	sp := &SystemPrompt{MaxActionsPerStep: maxActionsPerStep}
	prompt := overrideSystemMessage
	if prompt == "" {
		prompt = strings.ReplaceAll(systemPromptTemplate, "{max_actions}", fmt.Sprintf("%d", maxActionsPerStep))
	}
	if extendSystemMessage != "" {
		prompt += fmt.Sprintf("\n%s", extendSystemMessage)
	}
	sp.SystemMessage = &schema.Message{
		Role:    schema.System,
		Content: prompt,
	}
	return sp
}

type AgentMessagePrompt struct {
	State             *browser.BrowserState
	Result            []*controller.ActionResult
	IncludeAttributes []string
	StepInfo          *AgentStepInfo
	MaxErrorLength    int
	// SkipInMemory leaves out results already kept in the history while
	// the rest keep their position in Result.
	SkipInMemory      bool
}

func NewAgentMessagePrompt(
	state *browser.BrowserState,
	result []*controller.ActionResult,
	includeAttributes []string,
	stepInfo *AgentStepInfo,
	maxErrorLength int,
) *AgentMessagePrompt {
	return &AgentMessagePrompt{
		State:             state,
		Result:            result,
		IncludeAttributes: includeAttributes,
		StepInfo:          stepInfo,
		MaxErrorLength:    maxErrorLength,
	}
}

func (amp *AgentMessagePrompt) elementsText() string {
	elementText := ""
	if amp.State.ElementTree != nil {
		elementText = amp.State.ElementTree.ClickableElementsToString(amp.IncludeAttributes)
	}
	if elementText == "" {
		return "empty page"
	}

	if amp.State.PixelsAbove > 0 {
		elementText = fmt.Sprintf("... %d pixels above - scroll or extract content to see more ...\n%s", amp.State.PixelsAbove, elementText)
	} else {
		elementText = fmt.Sprintf("[Start of page]\n%s", elementText)
	}
	if amp.State.PixelsBelow > 0 {
		elementText = fmt.Sprintf("%s\n... %d pixels below - scroll or extract content to see more ...", elementText, amp.State.PixelsBelow)
	} else {
		elementText = fmt.Sprintf("%s\n[End of page]", elementText)
	}
	return elementText
}

// tail keeps the last n runes of s.
func tail(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

// GetUserMessage renders the observation of one step.
func (amp *AgentMessagePrompt) GetUserMessage(useVision bool) (*schema.Message, error) {
	var sb strings.Builder
	sb.WriteString("\n[Task history memory ends]\n[Current state starts here]\n")
	sb.WriteString("The following is one-time information - if you need to remember it write it to memory:\n")
	fmt.Fprintf(&sb, "Current url: %s\n", amp.State.Url)
	fmt.Fprintf(&sb, "Available tabs:\n%s\n", browser.TabsToString(amp.State.Tabs))
	fmt.Fprintf(&sb, "Interactive elements from current page:\n%s\n", amp.elementsText())

	if amp.StepInfo != nil {
		if err := amp.StepInfo.Validate(); err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, "Current step: %d/%d\n", amp.StepInfo.StepNumber+1, amp.StepInfo.MaxSteps)
	}
	fmt.Fprintf(&sb, "Current date and time: %s", now().Format("2006-01-02 15:04"))

	for i, result := range amp.Result {
		if amp.SkipInMemory && result.IncludeInMemory {
			continue
		}
		if result.ExtractedContent != "" {
			fmt.Fprintf(&sb, "\nAction result %d/%d: %s", i+1, len(amp.Result), result.ExtractedContent)
		}
		if result.Error != "" {
			fmt.Fprintf(&sb, "\nAction error %d/%d: ...%s", i+1, len(amp.Result), tail(result.Error, amp.MaxErrorLength))
		}
	}
	stateDescription := sb.String()

	if useVision && amp.State.HasScreenshot() {
		return &schema.Message{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{
					Type: schema.ChatMessagePartTypeText,
					Text: stateDescription,
				},
				{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL: "data:image/png;base64," + *amp.State.Screenshot,
					},
				},
			},
		}, nil
	}

	return &schema.Message{
		Role:    schema.User,
		Content: stateDescription,
	}, nil
}

const validatorPromptTemplate = `You are a validator of an agent who interacts with a browser.
Validate if the output of last action is what the user wanted and if the task is completed.
If the task is unclear defined, you can let it pass. But if something is missing or the image does not show what was requested dont let it pass.
Try to understand the page and help the model with suggestions like scroll, do x, ... to get the solution right.
Task to validate: %s. Return a JSON object with 2 keys: is_valid and reason.
is_valid is a boolean that indicates if the output is correct.
reason is a string that explains why it is valid or not.
example: {"is_valid": false, "reason": "The user wanted to search for \"cat photos\", but the agent searched for \"dog photos\" instead."}`

func getValidatorSystemMessage(task string) *schema.Message {
	return &schema.Message{
		Role:    schema.System,
		Content: fmt.Sprintf(validatorPromptTemplate, task),
	}
}
