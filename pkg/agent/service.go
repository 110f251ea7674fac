package agent

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/invopop/jsonschema"
	"github.com/nerdface-ai/browser-agent-go/internals/controller"
	"github.com/nerdface-ai/browser-agent-go/internals/dom"
	"github.com/nerdface-ai/browser-agent-go/internals/utils"
	"github.com/nerdface-ai/browser-agent-go/pkg/browser"
	"github.com/xeipuuv/gojsonschema"
)

// BrowserStateProvider returns a fresh snapshot of the page. It is called
// at least once per step and may fail when the page is gone.
type BrowserStateProvider interface {
	GetState(ctx context.Context, useVision bool) (*browser.BrowserState, error)
}

type Agent struct {
	Task          string
	LLM           model.ToolCallingChatModel
	Controller    *controller.Controller
	SensitiveData map[string]string
	Settings      *AgentSettings
	State         *AgentState

	Browser        *browser.Browser
	BrowserContext *browser.BrowserContext
	// owned resources are closed by Close
	ownsBrowser        bool
	ownsBrowserContext bool
	stateProvider      BrowserStateProvider

	ModelName      string
	MessageManager *MessageManager
	InitialActions []controller.ActModel

	// output schemas are built once in NewAgent
	outputTool *outputTool
	doneTool   *outputTool

	observer    Observer
	transcript  TranscriptSink
	validateLLM model.BaseChatModel

	stopped atomic.Bool
}

type AgentOption func(*AgentOptions)

type AgentOptions struct {
	settings *AgentSettings

	browserInst    *browser.Browser
	browserContext *browser.BrowserContext
	stateProvider  BrowserStateProvider
	controller     *controller.Controller

	sensitiveData  map[string]string
	initialActions []controller.ActModel

	injectedAgentState *AgentState
	tokenCounter       TokenCounter
	transcript         TranscriptSink
	observer           Observer
	validateLLM        model.BaseChatModel
}

func WithAgentSettings(settings AgentSettingsConfig) AgentOption {
	return func(o *AgentOptions) {
		o.settings = NewAgentSettings(settings)
	}
}

func WithBrowser(b *browser.Browser) AgentOption {
	return func(o *AgentOptions) {
		o.browserInst = b
	}
}

func WithBrowserConfig(b browser.BrowserConfig) AgentOption {
	return func(o *AgentOptions) {
		browserConfig := browser.NewBrowserConfig()
		for key, value := range b {
			browserConfig[key] = value
		}
		o.browserInst = browser.NewBrowser(browserConfig)
	}
}

func WithBrowserContext(b *browser.BrowserContext) AgentOption {
	return func(o *AgentOptions) {
		o.browserContext = b
	}
}

// WithStateProvider replaces the playwright browser as the source of page
// snapshots. No browser is started in that case.
func WithStateProvider(p BrowserStateProvider) AgentOption {
	return func(o *AgentOptions) {
		o.stateProvider = p
	}
}

func WithController(c *controller.Controller) AgentOption {
	return func(o *AgentOptions) {
		o.controller = c
	}
}

func WithSensitiveData(data map[string]string) AgentOption {
	return func(o *AgentOptions) {
		o.sensitiveData = data
	}
}

func WithInitialActions(actions []controller.ActModel) AgentOption {
	return func(o *AgentOptions) {
		o.initialActions = actions
	}
}

func WithInjectedAgentState(state *AgentState) AgentOption {
	return func(o *AgentOptions) {
		o.injectedAgentState = state
	}
}

func WithTokenCounter(counter TokenCounter) AgentOption {
	return func(o *AgentOptions) {
		o.tokenCounter = counter
	}
}

func WithTranscriptSink(sink TranscriptSink) AgentOption {
	return func(o *AgentOptions) {
		o.transcript = sink
	}
}

func WithObserver(observer Observer) AgentOption {
	return func(o *AgentOptions) {
		o.observer = observer
	}
}

// WithValidateLLM sets the model that checks a done result when
// validate_output is on. It should answer with {"is_valid", "reason"} JSON.
func WithValidateLLM(llm model.BaseChatModel) AgentOption {
	return func(o *AgentOptions) {
		o.validateLLM = llm
	}
}

/*
NewAgent builds an agent for task. Settings come from a config map, e.g.

	agent.NewAgent(task, llm, agent.WithAgentSettings(agent.AgentSettingsConfig{
		"use_vision":             true,
		"max_failures":           3,
		"save_conversation_path": "./logs/conversation",
	}))
*/
func NewAgent(
	task string,
	llm model.ToolCallingChatModel,
	options ...AgentOption,
) (*Agent, error) {
	opts := &AgentOptions{settings: NewAgentSettings(AgentSettingsConfig{})}
	for _, opt := range options {
		opt(opts)
	}

	agent := &Agent{
		Task:           task,
		LLM:            llm,
		Controller:     opts.controller,
		SensitiveData:  opts.sensitiveData,
		Settings:       opts.settings,
		InitialActions: opts.initialActions,
		observer:       opts.observer,
		transcript:     opts.transcript,
		validateLLM:    opts.validateLLM,
	}
	if agent.Controller == nil {
		agent.Controller = controller.NewController()
	}
	if agent.observer == nil {
		agent.observer = NopObserver{}
	}
	if agent.transcript == nil && agent.Settings.SaveConversationPath != "" {
		agent.transcript = NewFileTranscript(agent.Settings.SaveConversationPath)
	}

	agent.State = opts.injectedAgentState
	if agent.State == nil {
		agent.State = NewAgentState()
	}

	var err error
	agent.outputTool, err = newOutputTool(agent.Controller.Registry.CreateActionModel(nil, nil), agent.Settings.MaxActionsPerStep)
	if err != nil {
		return nil, fmt.Errorf("building action schema: %w", err)
	}
	// used to force the done action when max steps is reached
	agent.doneTool, err = newOutputTool(agent.Controller.Registry.CreateActionModel([]string{"done"}, nil), 1)
	if err != nil {
		return nil, fmt.Errorf("building done schema: %w", err)
	}

	agent.setupBrowser(opts)
	agent.ModelName = modelName(llm)
	agent.logAgentInfo()

	systemPrompt := NewSystemPrompt(
		agent.Settings.MaxActionsPerStep,
		agent.Settings.OverrideSystemMessage,
		agent.Settings.ExtendSystemMessage,
	)
	tokenCounter := opts.tokenCounter
	if tokenCounter == nil {
		tokenCounter = NewEstimatedTokenCounter(3)
	}
	agent.MessageManager = NewMessageManager(
		task,
		systemPrompt.SystemMessage,
		NewMessageManagerSettings(MessageManagerConfig{
			"max_input_tokens":     agent.Settings.MaxInputTokens,
			"image_tokens":         agent.Settings.ImageTokens,
			"include_attributes":   agent.Settings.IncludeAttributes,
			"message_context":      agent.Settings.MessageContext,
			"sensitive_data":       agent.SensitiveData,
			"available_file_paths": agent.Settings.AvailableFilePaths,
			"max_error_length":     agent.Settings.MaxErrorLength,
			"token_counter":        tokenCounter,
		}),
		agent.State.MessageManagerState,
	)
	return agent, nil
}

func (ag *Agent) setupBrowser(opts *AgentOptions) {
	if opts.stateProvider != nil {
		ag.stateProvider = opts.stateProvider
		if bc, ok := opts.stateProvider.(*browser.BrowserContext); ok {
			ag.BrowserContext = bc
		}
		return
	}
	ag.Browser = opts.browserInst
	ag.BrowserContext = opts.browserContext
	if ag.BrowserContext == nil {
		if ag.Browser == nil {
			ag.Browser = browser.NewBrowser(browser.BrowserConfig{})
			ag.ownsBrowser = true
		}
		ag.BrowserContext = ag.Browser.NewContext()
		ag.ownsBrowserContext = true
	}
	ag.stateProvider = ag.BrowserContext
}

// session is what actions receive through controller.BrowserFromContext.
func (ag *Agent) session() any {
	if ag.BrowserContext != nil {
		return ag.BrowserContext
	}
	return ag.stateProvider
}

func modelName(llm model.ToolCallingChatModel) string {
	if llm == nil {
		return ""
	}
	t := reflect.TypeOf(llm)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	parts := strings.Split(t.PkgPath(), "/")
	return parts[len(parts)-1]
}

func (ag *Agent) logAgentInfo() {
	info := fmt.Sprintf("🧠 Starting an agent with main_model=%s +tools", ag.ModelName)
	if ag.Settings.UseVision {
		info += " +vision"
	}
	log.Info(info)
}

type outputTool struct {
	info      *schema.ToolInfo
	validator *gojsonschema.Schema
}

// newOutputTool composes the AgentOutput tool: the agent brain plus a list
// of one-of actions from the action model.
func newOutputTool(actionModel *controller.ActionModel, maxActions int) (*outputTool, error) {
	brain, err := agentBrainSchema()
	if err != nil {
		return nil, err
	}
	item, err := actionModel.ItemSchema()
	if err != nil {
		return nil, err
	}
	actions := openapi3.NewArraySchema().WithItems(item).WithMinItems(1)
	if maxActions > 0 {
		actions = actions.WithMaxItems(int64(maxActions))
	}
	actions.Description = "List of actions to execute"

	root := openapi3.NewObjectSchema().
		WithProperty("current_state", brain).
		WithProperty("action", actions)
	root.Required = []string{"current_state", "action"}

	raw, err := utils.StringifyJSON(root)
	if err != nil {
		return nil, err
	}
	validator, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, err
	}
	return &outputTool{
		info: &schema.ToolInfo{
			Name:        "AgentOutput",
			Desc:        "AgentOutput model with custom actions",
			ParamsOneOf: schema.NewParamsOneOfByOpenAPIV3(root),
		},
		validator: validator,
	}, nil
}

func agentBrainSchema() (*openapi3.Schema, error) {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	raw, err := utils.StringifyJSON(r.Reflect(&AgentBrain{}))
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := utils.ParseJSON(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "$schema")
	delete(m, "$id")
	delete(m, "additionalProperties")
	cleaned, err := utils.StringifyJSON(m)
	if err != nil {
		return nil, err
	}
	brain := openapi3.NewObjectSchema()
	if err := brain.UnmarshalJSON([]byte(cleaned)); err != nil {
		return nil, err
	}
	return brain, nil
}

// ValidationOutputSchema is the response format expected from the
// validate model.
func ValidationOutputSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("is_valid", openapi3.NewBoolSchema()).
		WithProperty("reason", openapi3.NewStringSchema())
	s.Required = []string{"is_valid", "reason"}
	return s
}

func (ag *Agent) step(ctx context.Context, stepInfo *AgentStepInfo) error {
	log.Infof("📍 Step %d", ag.State.NSteps)
	stepStartTime := time.Now()

	state, modelOutput, result, err := ag.attemptStep(ctx, stepInfo)
	if err != nil {
		var agentErr *AgentError
		if errors.As(err, &agentErr) && !agentErr.Retryable() {
			log.Errorf("❌ %s", err)
			return err
		}
		result = ag.handleStepError(ctx, err)
		modelOutput = nil
	} else {
		ag.State.ConsecutiveFailures = 0
	}

	ag.State.LastResult = result
	ag.MessageManager.AddActionResults(result)

	if len(result) > 0 {
		last := result[len(result)-1]
		if last.IsDone && last.ExtractedContent != "" {
			log.Infof("📄 Result: %s", last.ExtractedContent)
		}
	}

	metadata := &StepMetadata{
		StepNumber:    ag.State.NSteps,
		StepStartTime: stepStartTime,
		StepEndTime:   time.Now(),
		InputTokens:   ag.MessageManager.State.LastInputTokens,
	}
	ag.makeHistoryItem(modelOutput, state, result, metadata)

	url := ""
	if state != nil {
		url = state.Url
	}
	ag.observer.OnStep(StepEvent{
		AgentId:             ag.State.AgentId,
		StepNumber:          ag.State.NSteps,
		Url:                 url,
		ModelOutput:         modelOutput,
		Result:              result,
		InputTokens:         metadata.InputTokens,
		Duration:            metadata.StepEndTime.Sub(metadata.StepStartTime),
		ConsecutiveFailures: ag.State.ConsecutiveFailures,
	})

	ag.State.NSteps++
	return nil
}

// attemptStep reads the page, asks the model and executes its actions. Any
// error is an *AgentError.
func (ag *Agent) attemptStep(ctx context.Context, stepInfo *AgentStepInfo) (
	*browser.BrowserState, *AgentOutput, []*controller.ActionResult, error,
) {
	state, err := ag.stateProvider.GetState(ctx, ag.Settings.UseVision)
	if err != nil {
		return nil, nil, nil, newAgentError(ErrorEnvironment, err)
	}
	if state == nil {
		return nil, nil, nil, newAgentError(ErrorEnvironment, dom.ErrPageUnavailable)
	}

	url := state.Url
	if pageActions := ag.Controller.Registry.GetPromptDescription(&url); pageActions != "" {
		ag.MessageManager.AddMessage(&schema.Message{
			Role:    schema.User,
			Content: "For this page, these additional actions are available:\n" + pageActions,
		}, false)
	}

	tool := ag.outputTool
	if stepInfo != nil && stepInfo.IsLastStep() {
		msg := "Now comes your last step. Use only the \"done\" action now. No other actions - so here your action sequence must have length 1."
		msg += "\nIf the task is not yet fully finished as requested by the user, set success in \"done\" to false! E.g. if not all steps are fully completed."
		msg += "\nIf the task is fully finished, set success in \"done\" to true."
		msg += "\nInclude everything you found out for the ultimate task in the done text."
		log.Info("Last step finishing up")
		ag.MessageManager.AddMessage(&schema.Message{Role: schema.User, Content: msg}, false)
		tool = ag.doneTool
	}

	observation, err := ag.MessageManager.ComposeObservation(state, ag.State.LastResult, stepInfo, ag.Settings.UseVision)
	if err != nil {
		return state, nil, nil, newAgentError(ErrorGeneric, err)
	}
	input, err := ag.MessageManager.PrepareInput(observation)
	if err != nil {
		if errors.Is(err, ErrBudgetOverflow) {
			return state, nil, nil, newAgentError(ErrorBudgetOverflow, err)
		}
		return state, nil, nil, newAgentError(ErrorGeneric, err)
	}

	modelOutput, err := ag.getNextAction(ctx, input, tool)
	if err != nil {
		return state, nil, nil, err
	}

	if ag.transcript != nil {
		if err := ag.transcript.Write(ag.State.NSteps, input, modelOutput); err != nil {
			log.Warnf("failed to save conversation: %v", err)
		}
	}

	ag.MessageManager.AddModelOutput(modelOutput)

	result, err := ag.multiAct(ctx, modelOutput.Action, state, true)
	if err != nil {
		return state, modelOutput, nil, err
	}
	return state, modelOutput, result, nil
}

// Get next action from LLM based on current state
func (ag *Agent) getNextAction(ctx context.Context, input []*schema.Message, tool *outputTool) (*AgentOutput, error) {
	toolLLM, err := ag.LLM.WithTools([]*schema.ToolInfo{tool.info})
	if err != nil {
		return nil, newAgentError(ErrorGeneric, err)
	}
	response, err := toolLLM.Generate(ctx, input, model.WithToolChoice(schema.ToolChoiceForced))
	if err != nil {
		return nil, classifyModelError(err)
	}
	if response == nil || len(response.ToolCalls) == 0 {
		return nil, newAgentError(ErrorParse, fmt.Errorf("%w: no tool call in response", ErrInvalidModelOutput))
	}
	args := response.ToolCalls[0].Function.Arguments
	if args == "" {
		return nil, newAgentError(ErrorParse, fmt.Errorf("%w: empty tool call arguments", ErrInvalidModelOutput))
	}
	log.Debugf("Tool call args: %s", args)

	validation, err := tool.validator.Validate(gojsonschema.NewStringLoader(args))
	if err != nil {
		return nil, newAgentError(ErrorParse, fmt.Errorf("%w: %v", ErrInvalidModelOutput, err))
	}
	if !validation.Valid() {
		problems := make([]string, 0, len(validation.Errors()))
		for _, e := range validation.Errors() {
			problems = append(problems, e.String())
		}
		return nil, newAgentError(ErrorParse, fmt.Errorf("%w: %s", ErrInvalidModelOutput, strings.Join(problems, "; ")))
	}

	var parsed AgentOutput
	if err := utils.ParseJSON(args, &parsed); err != nil {
		return nil, newAgentError(ErrorParse, fmt.Errorf("%w: %v", ErrInvalidModelOutput, err))
	}
	if len(parsed.Action) > ag.Settings.MaxActionsPerStep {
		parsed.Action = parsed.Action[:ag.Settings.MaxActionsPerStep]
	}
	return &parsed, nil
}

// handleStepError logs the failure, waits on rate limits and returns the
// result that tells the model what went wrong.
func (ag *Agent) handleStepError(ctx context.Context, err error) []*controller.ActionResult {
	agentErr := classifyModelError(err)
	errMsg := FormatError(agentErr)
	prefix := fmt.Sprintf("❌ Result failed %d/%d times:\n ", ag.State.ConsecutiveFailures+1, ag.Settings.MaxFailures)

	switch agentErr.Kind {
	case ErrorRateLimit:
		log.Warn(prefix + errMsg)
		if err := sleepContext(ctx, ag.Settings.RetryDelay); err != nil {
			log.Debugf("backoff interrupted: %v", err)
		}
	default:
		log.Error(prefix + errMsg)
	}
	ag.State.ConsecutiveFailures++

	return []*controller.ActionResult{{Error: errMsg, IncludeInMemory: true}}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AgentRunOption defines a functional option for Agent.Run
type AgentRunOption func(*agentRunOptions)

type agentRunOptions struct {
	maxSteps    int
	onStepStart func(*Agent)
	onStepEnd   func(*Agent)
	autoClose   bool
}

// WithMaxSteps sets the maximum number of steps for Agent.Run
func WithMaxSteps(n int) AgentRunOption {
	return func(o *agentRunOptions) {
		o.maxSteps = n
	}
}

func WithOnStepStart(cb func(*Agent)) AgentRunOption {
	return func(o *agentRunOptions) {
		o.onStepStart = cb
	}
}

func WithOnStepEnd(cb func(*Agent)) AgentRunOption {
	return func(o *agentRunOptions) {
		o.onStepEnd = cb
	}
}

// WithAutoClose sets whether to close owned browser resources after the run
func WithAutoClose(autoClose bool) AgentRunOption {
	return func(o *agentRunOptions) {
		o.autoClose = autoClose
	}
}

// Run executes the agent for up to maxSteps (default 10). The history is
// always returned; the error is set only when the run could not continue.
func (ag *Agent) Run(ctx context.Context, opts ...AgentRunOption) (*AgentHistoryList, error) {
	options := agentRunOptions{
		maxSteps:  10,
		autoClose: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.autoClose {
		defer ag.Close()
	}

	log.Infof("🚀 Starting task: %s", ag.Task)
	ag.State.Status = StatusRunning
	ag.stopped.Store(false)

	if len(ag.InitialActions) > 0 {
		result, err := ag.multiAct(ctx, ag.InitialActions, nil, false)
		if err != nil {
			log.Errorf("❌ Initial actions failed: %v", err)
			result = []*controller.ActionResult{{Error: FormatError(err), IncludeInMemory: true}}
		}
		ag.State.LastResult = result
	}

	var runErr error
	for step := 0; step < options.maxSteps; step++ {
		if ag.State.ConsecutiveFailures >= ag.Settings.MaxFailures {
			log.Errorf("❌ Stopping due to %d consecutive failures", ag.Settings.MaxFailures)
			ag.State.Status = StatusMaxFailures
			break
		}
		if ag.stopped.Load() || ctx.Err() != nil {
			log.Info("Agent stopped")
			ag.State.Status = StatusStopped
			break
		}

		if options.onStepStart != nil {
			options.onStepStart(ag)
		}

		stepInfo := &AgentStepInfo{StepNumber: step, MaxSteps: options.maxSteps}
		if err := ag.step(ctx, stepInfo); err != nil {
			ag.State.Status = StatusFailed
			runErr = err
			break
		}

		if options.onStepEnd != nil {
			options.onStepEnd(ag)
		}

		if ag.State.History.IsDone() {
			if ag.Settings.ValidateOutput && step < options.maxSteps-1 {
				if !ag.validateOutput(ctx) {
					continue
				}
			}
			ag.State.Status = StatusCompleted
			ag.logCompletion()
			break
		}
	}
	if ag.State.Status == StatusRunning {
		log.Info("❌ Failed to complete task in maximum steps")
		ag.State.Status = StatusMaxSteps
	}

	ag.observer.OnRunEnd(RunEvent{
		AgentId: ag.State.AgentId,
		Status:  ag.State.Status,
		Steps:   len(ag.State.History.History),
		History: ag.State.History,
	})
	return ag.State.History, runErr
}

// Stop ends the current run before its next step starts.
func (ag *Agent) Stop() {
	log.Info("⏹️ Agent stopping")
	ag.stopped.Store(true)
}

// Close releases the browser resources the agent created itself.
func (ag *Agent) Close() {
	if ag.BrowserContext != nil && ag.ownsBrowserContext {
		ag.BrowserContext.Close()
	}
	if ag.Browser != nil && ag.ownsBrowser {
		if err := ag.Browser.Close(); err != nil {
			log.Errorf("Error during cleanup: %s", err)
		}
	}
}

func pathHashes(selectorMap dom.SelectorMap) mapset.Set[string] {
	hashes := mapset.NewSet[string]()
	for _, e := range selectorMap {
		hashes.Add(e.Hash().BranchPathHash)
	}
	return hashes
}

func hashAt(selectorMap dom.SelectorMap, index int) string {
	el, ok := selectorMap[index]
	if !ok || el == nil {
		return ""
	}
	return el.Hash().BranchPathHash
}

// Execute multiple actions. A run of actions stops early when the page
// changed under an indexed action.
func (ag *Agent) multiAct(
	ctx context.Context,
	actions []controller.ActModel,
	state *browser.BrowserState,
	checkForNewElements bool,
) ([]*controller.ActionResult, error) {
	results := []*controller.ActionResult{}

	var cachedSelectorMap dom.SelectorMap
	actCtx := controller.WithBrowser(ctx, ag.session())
	actCtx = controller.WithSensitiveData(actCtx, ag.SensitiveData)
	if state != nil {
		cachedSelectorMap = state.SelectorMap
		actCtx = controller.WithPageURL(actCtx, state.Url)
	}
	cachedPathHashes := pathHashes(cachedSelectorMap)

	for i, action := range actions {
		if index := action.GetIndex(); index != nil && i != 0 && state != nil {
			newState, err := ag.stateProvider.GetState(ctx, false)
			if err != nil {
				return nil, newAgentError(ErrorEnvironment, err)
			}
			if newState == nil {
				return nil, newAgentError(ErrorEnvironment, dom.ErrPageUnavailable)
			}

			origHash := hashAt(cachedSelectorMap, *index)
			newHash := hashAt(newState.SelectorMap, *index)
			if origHash == "" || newHash == "" || origHash != newHash {
				msg := fmt.Sprintf("Element index changed after action %d / %d, because page changed.", i, len(actions))
				log.Info(msg)
				results = append(results, &controller.ActionResult{ExtractedContent: msg, IncludeInMemory: true})
				break
			}

			if checkForNewElements && !pathHashes(newState.SelectorMap).IsSubset(cachedPathHashes) {
				msg := fmt.Sprintf("Something new appeared after action %d / %d", i, len(actions))
				log.Info(msg)
				results = append(results, &controller.ActionResult{ExtractedContent: msg, IncludeInMemory: true})
				break
			}
			actCtx = controller.WithPageURL(actCtx, newState.Url)
		}

		result, err := ag.Controller.Act(actCtx, action)
		if err != nil {
			return nil, newAgentError(ErrorActionExecution, err)
		}
		results = append(results, result)
		log.Debugf("Executed action %d / %d", i+1, len(actions))
		if result.IsDone || result.Error != "" || i == len(actions)-1 {
			break
		}

		if err := sleepContext(ctx, ag.Settings.WaitBetweenActions); err != nil {
			break
		}
	}

	return results, nil
}

// Create and store history item
func (ag *Agent) makeHistoryItem(
	modelOutput *AgentOutput,
	state *browser.BrowserState,
	result []*controller.ActionResult,
	metadata *StepMetadata,
) {
	var stateHistory *browser.BrowserStateHistory
	if state != nil {
		var interacted []*dom.DOMHistoryElement
		if modelOutput != nil {
			interacted = GetInteractedElement(modelOutput, state.SelectorMap)
		} else {
			interacted = []*dom.DOMHistoryElement{nil}
		}
		stateHistory = &browser.BrowserStateHistory{
			Url:               state.Url,
			Title:             state.Title,
			Tabs:              state.Tabs,
			InteractedElement: interacted,
			Screenshot:        state.Screenshot,
		}
	}

	ag.State.History.History = append(ag.State.History.History, &AgentHistory{
		ModelOutput: modelOutput,
		Result:      result,
		State:       stateHistory,
		Metadata:    metadata,
	})
}

type validationResult struct {
	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason"`
}

// validateOutput asks the validate model whether the done result answers
// the task. Without a validate model every result passes.
func (ag *Agent) validateOutput(ctx context.Context) bool {
	if ag.validateLLM == nil {
		return true
	}
	state, err := ag.stateProvider.GetState(ctx, false)
	if err != nil {
		log.Warnf("validation skipped, no browser state: %v", err)
		return true
	}
	observation, err := NewAgentMessagePrompt(state, ag.State.LastResult, ag.Settings.IncludeAttributes, nil, ag.Settings.MaxErrorLength).
		GetUserMessage(ag.Settings.UseVision)
	if err != nil {
		log.Warnf("validation skipped: %v", err)
		return true
	}

	response, err := ag.validateLLM.Generate(ctx, []*schema.Message{getValidatorSystemMessage(ag.Task), observation})
	if err != nil {
		log.Warnf("validation skipped: %v", err)
		return true
	}
	var parsed validationResult
	if err := utils.ParseJSON(response.Content, &parsed); err != nil {
		log.Warnf("validation skipped, unreadable answer: %v", err)
		return true
	}

	if parsed.IsValid {
		log.Infof("✅ Validator decision: %s", parsed.Reason)
		return true
	}
	log.Infof("❌ Validator decision: %s", parsed.Reason)
	result := []*controller.ActionResult{{
		ExtractedContent: fmt.Sprintf("The output is not yet correct. %s.", parsed.Reason),
		IncludeInMemory:  true,
	}}
	ag.State.LastResult = result
	ag.MessageManager.AddActionResults(result)
	return false
}

// Log the completion of the task
func (ag *Agent) logCompletion() {
	log.Info("✅ Task completed")
	if success := ag.State.History.IsSuccessful(); success != nil && *success {
		log.Info("✅ Successfully")
	} else {
		log.Info("❌ Unfinished")
	}
	log.Infof("📝 Total input tokens used (approximate): %d", ag.State.History.TotalInputTokens())
}
