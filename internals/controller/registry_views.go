package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	einoUtils "github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/nerdface-ai/browser-agent-go/internals/utils"
)

// PageFilter decides from the current page url whether an action applies.
type PageFilter func(url string) bool

type RegisteredAction struct {
	Name        string
	Description string
	Tool        tool.InvokableTool
	// filters: provide specific domains or a function to determine whether the action should be available on the given page or not
	Domains    []string // e.g. ['*.google.com', 'www.bing.com', 'yahoo.*']
	PageFilter PageFilter
}

func NewRegisteredAction[T, D any](
	name string,
	description string,
	actionFunc einoUtils.InvokeFunc[T, D],
	domains []string,
	pageFilter PageFilter,
) (*RegisteredAction, error) {
	customTool, err := einoUtils.InferTool(name, description, actionFunc)
	if err != nil {
		return nil, err
	}
	return &RegisteredAction{
		Name:        name,
		Description: description,
		Tool:        customTool,
		Domains:     domains,
		PageFilter:  pageFilter,
	}, nil
}

// IsFiltered reports whether the action is limited to some pages.
func (ra *RegisteredAction) IsFiltered() bool {
	return ra.PageFilter != nil || len(ra.Domains) > 0
}

func (ra *RegisteredAction) MatchesPage(url string) bool {
	if !utils.MatchDomains(ra.Domains, url) {
		return false
	}
	return ra.PageFilter == nil || ra.PageFilter(url)
}

// ParamsSchema returns the action's parameter schema.
func (ra *RegisteredAction) ParamsSchema() (*openapi3.Schema, error) {
	info, err := ra.Tool.Info(context.Background())
	if err != nil {
		return nil, err
	}
	if info.ParamsOneOf == nil {
		return openapi3.NewObjectSchema(), nil
	}
	s, err := info.ToOpenAPIV3()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return openapi3.NewObjectSchema(), nil
	}
	return s, nil
}

/*
PromptDescription renders the action for the prompt, e.g.

	Search for text:
	{"search":{"query":{"type":"string"}}}
*/
func (ra *RegisteredAction) PromptDescription() string {
	s := fmt.Sprintf("%s: \n", ra.Description)
	params, err := ra.ParamsSchema()
	if err != nil {
		return s + fmt.Sprintf(`{"%s":{}}`, ra.Name)
	}
	props, err := utils.StringifyJSON(map[string]interface{}{ra.Name: params.Properties})
	if err != nil {
		return s + fmt.Sprintf(`{"%s":{}}`, ra.Name)
	}
	return s + props
}

// ActionModel is the set of actions the model may choose from.
type ActionModel struct {
	Actions map[string]*RegisteredAction `json:"actions"`
}

// Names returns the action names in sorted order.
func (am *ActionModel) Names() []string {
	names := make([]string, 0, len(am.Actions))
	for name := range am.Actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ItemSchema is the schema of one action entry: an object holding exactly
// one of the registered actions keyed by name.
func (am *ActionModel) ItemSchema() (*openapi3.Schema, error) {
	item := openapi3.NewObjectSchema().WithMinProperties(1).WithMaxProperties(1)
	for _, name := range am.Names() {
		params, err := am.Actions[name].ParamsSchema()
		if err != nil {
			return nil, fmt.Errorf("schema for action %s: %w", name, err)
		}
		params.Description = am.Actions[name].Description
		item.WithProperty(name, params)
	}
	return item, nil
}

// ToolInfos lists the eino tool definitions of every action.
func (am *ActionModel) ToolInfos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(am.Actions))
	for _, name := range am.Names() {
		info, err := am.Actions[name].Tool.Info(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

var ErrInvalidActModel = errors.New("action must name exactly one registered action")

// ActModel is one action chosen by the model: {"action_name": {params}}.
type ActModel map[string]interface{}

// Unpack returns the single action name and its parameters.
func (am ActModel) Unpack() (string, map[string]interface{}, error) {
	if len(am) != 1 {
		return "", nil, fmt.Errorf("%w: got %d keys", ErrInvalidActModel, len(am))
	}
	for name, raw := range am {
		if raw == nil {
			return name, map[string]interface{}{}, nil
		}
		params, ok := raw.(map[string]interface{})
		if !ok {
			return "", nil, fmt.Errorf("%w: parameters of %s are %T", ErrInvalidActModel, name, raw)
		}
		return name, params, nil
	}
	return "", nil, ErrInvalidActModel
}

// Get the index of the action
func (am ActModel) GetIndex() *int {
	for _, params := range am {
		paramJson, ok := params.(map[string]interface{})
		if !ok {
			continue
		}
		switch index := paramJson["index"].(type) {
		case int:
			return &index
		case int64:
			i := int(index)
			return &i
		case float64:
			i := int(index)
			return &i
		}
	}
	return nil
}

// Overwrite the index of the action
func (am ActModel) SetIndex(index int) {
	for _, params := range am {
		paramJson, ok := params.(map[string]interface{})
		if !ok {
			continue
		}
		if _, ok := paramJson["index"]; ok {
			paramJson["index"] = index
		}
	}
}

// Model representing the action registry
type ActionRegistry struct {
	Actions map[string]*RegisteredAction
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		Actions: make(map[string]*RegisteredAction),
	}
}

func (ar *ActionRegistry) sortedActions() []*RegisteredAction {
	names := make([]string, 0, len(ar.Actions))
	for name := range ar.Actions {
		names = append(names, name)
	}
	sort.Strings(names)
	actions := make([]*RegisteredAction, 0, len(names))
	for _, name := range names {
		actions = append(actions, ar.Actions[name])
	}
	return actions
}

// GetPromptDescription describes actions for the prompt. With a nil url it
// lists only unfiltered actions (system prompt); with a url it lists only
// the filtered actions that match that page.
func (ar *ActionRegistry) GetPromptDescription(url *string) string {
	var descriptions []string
	for _, action := range ar.sortedActions() {
		if url == nil {
			if !action.IsFiltered() {
				descriptions = append(descriptions, action.PromptDescription())
			}
			continue
		}
		if action.IsFiltered() && action.MatchesPage(*url) {
			descriptions = append(descriptions, action.PromptDescription())
		}
	}
	return strings.Join(descriptions, "\n")
}
