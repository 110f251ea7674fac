package controller

import (
	"context"

	"github.com/charmbracelet/log"
	einoUtils "github.com/cloudwego/eino/components/tool/utils"
	"github.com/nerdface-ai/browser-agent-go/internals/utils"
)

type Controller struct {
	Registry *Registry
}

// NewController creates a controller with the built-in done action.
func NewController(excludeActions ...string) *Controller {
	c := &Controller{Registry: NewRegistry(excludeActions...)}
	if err := RegisterAction(c, "done", "Complete task - with return text and if the task is finished (success=True) or not yet completely finished (success=False), because last step is reached", doneAction, nil, nil); err != nil {
		log.Errorf("failed to register done action: %v", err)
	}
	return c
}

func doneAction(_ context.Context, params DoneAction) (*ActionResult, error) {
	success := params.Success
	return &ActionResult{
		IsDone:           true,
		Success:          &success,
		ExtractedContent: params.Text,
		IncludeInMemory:  true,
	}, nil
}

// RegisterAction registers a typed action function on the controller.
func RegisterAction[T, D any](
	c *Controller,
	name string,
	description string,
	function einoUtils.InvokeFunc[T, D],
	domains []string,
	pageFilter PageFilter,
) error {
	return registerAction(c.Registry, name, description, function, domains, pageFilter)
}

// Act executes one action chosen by the model.
func (c *Controller) Act(ctx context.Context, action ActModel) (*ActionResult, error) {
	name, params, err := action.Unpack()
	if err != nil {
		return nil, err
	}
	args, err := utils.StringifyJSON(params)
	if err != nil {
		return nil, err
	}

	output, err := c.Registry.ExecuteAction(ctx, name, args)
	if err != nil {
		return nil, err
	}
	return parseActionOutput(output), nil
}

// parseActionOutput accepts an ActionResult, a JSON string or raw text.
func parseActionOutput(output string) *ActionResult {
	var result ActionResult
	if err := utils.ParseJSON(output, &result); err == nil && result != (ActionResult{}) {
		return &result
	}
	var text string
	if err := utils.ParseJSON(output, &text); err == nil {
		return &ActionResult{ExtractedContent: text}
	}
	return &ActionResult{ExtractedContent: output}
}

type contextKey string

const (
	browserKey       contextKey = "browser"
	pageURLKey       contextKey = "page_url"
	sensitiveDataKey contextKey = "sensitive_data"
)

// WithBrowser makes the browser session available to actions.
func WithBrowser(ctx context.Context, browser any) context.Context {
	return context.WithValue(ctx, browserKey, browser)
}

// BrowserFromContext returns the browser session stored by WithBrowser.
func BrowserFromContext[T any](ctx context.Context) (T, bool) {
	b, ok := ctx.Value(browserKey).(T)
	return b, ok
}

func WithPageURL(ctx context.Context, url string) context.Context {
	return context.WithValue(ctx, pageURLKey, url)
}

func PageURLFromContext(ctx context.Context) (string, bool) {
	url, ok := ctx.Value(pageURLKey).(string)
	return url, ok && url != ""
}

func WithSensitiveData(ctx context.Context, data map[string]string) context.Context {
	return context.WithValue(ctx, sensitiveDataKey, data)
}

func SensitiveDataFromContext(ctx context.Context) map[string]string {
	data, _ := ctx.Value(sensitiveDataKey).(map[string]string)
	return data
}
