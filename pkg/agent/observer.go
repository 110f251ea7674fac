package agent

import (
	"sync"
	"time"

	"github.com/nerdface-ai/browser-agent-go/internals/controller"
)

type StepEvent struct {
	AgentId             string
	StepNumber          int
	Url                 string
	ModelOutput         *AgentOutput
	Result              []*controller.ActionResult
	InputTokens         int
	Duration            time.Duration
	ConsecutiveFailures int
}

type RunEvent struct {
	AgentId string
	Status  RunStatus
	Steps   int
	History *AgentHistoryList
}

// Observer receives step and run events. One observer may be shared by
// agents running in parallel, so implementations must be safe for
// concurrent use.
type Observer interface {
	OnStep(event StepEvent)
	OnRunEnd(event RunEvent)
}

type NopObserver struct{}

func (NopObserver) OnStep(StepEvent)  {}
func (NopObserver) OnRunEnd(RunEvent) {}

// CollectingObserver keeps every event in memory.
type CollectingObserver struct {
	mu    sync.Mutex
	steps []StepEvent
	runs  []RunEvent
}

func NewCollectingObserver() *CollectingObserver {
	return &CollectingObserver{}
}

func (o *CollectingObserver) OnStep(event StepEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, event)
}

func (o *CollectingObserver) OnRunEnd(event RunEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, event)
}

func (o *CollectingObserver) Steps() []StepEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]StepEvent(nil), o.steps...)
}

func (o *CollectingObserver) Runs() []RunEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]RunEvent(nil), o.runs...)
}
