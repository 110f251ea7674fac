package controller

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	einoUtils "github.com/cloudwego/eino/components/tool/utils"
	"github.com/nerdface-ai/browser-agent-go/internals/utils"
)

var (
	ErrActionNotFound   = errors.New("action not found")
	ErrActionNotAllowed = errors.New("action not available on this page")

	secretPattern = regexp.MustCompile(`<secret>(.*?)</secret>`)
)

// The main service class that manages action registration and execution
type Registry struct {
	Registry       *ActionRegistry
	ExcludeActions []string
}

func NewRegistry(excludeActions ...string) *Registry {
	return &Registry{
		Registry:       NewActionRegistry(),
		ExcludeActions: excludeActions,
	}
}

// registerAction adds an action unless it is excluded. Names must be unique.
func registerAction[T, D any](
	r *Registry,
	name string,
	description string,
	function einoUtils.InvokeFunc[T, D],
	domains []string,
	pageFilter PageFilter,
) error {
	if slices.Contains(r.ExcludeActions, name) {
		log.Debugf("action %s is excluded", name)
		return nil
	}
	if _, ok := r.Registry.Actions[name]; ok {
		return fmt.Errorf("action %s is already registered", name)
	}

	action, err := NewRegisteredAction(name, description, function, domains, pageFilter)
	if err != nil {
		return err
	}
	r.Registry.Actions[name] = action
	return nil
}

// ExecuteAction runs a registered action with JSON arguments and returns
// the tool's JSON output.
func (r *Registry) ExecuteAction(ctx context.Context, actionName string, argumentsInJson string) (string, error) {
	action, ok := r.Registry.Actions[actionName]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrActionNotFound, actionName)
	}

	if url, ok := PageURLFromContext(ctx); ok && action.IsFiltered() && !action.MatchesPage(url) {
		return "", fmt.Errorf("%w: %s on %s", ErrActionNotAllowed, actionName, url)
	}

	if sensitiveData := SensitiveDataFromContext(ctx); len(sensitiveData) > 0 {
		argumentsInJson = r.replaceSensitiveData(argumentsInJson, sensitiveData)
	}

	result, err := action.Tool.InvokableRun(ctx, argumentsInJson)
	if err != nil {
		return "", fmt.Errorf("action %s: %w", actionName, err)
	}
	return result, nil
}

func (r *Registry) replaceSensitiveData(argumentsInJson string, sensitiveData map[string]string) string {
	if !strings.Contains(argumentsInJson, "<secret>") {
		return argumentsInJson
	}
	return secretPattern.ReplaceAllStringFunc(argumentsInJson, func(match string) string {
		placeholder := secretPattern.FindStringSubmatch(match)[1]
		if replacement, ok := sensitiveData[placeholder]; ok {
			// placeholders sit inside JSON strings, so the value is escaped
			encoded, err := utils.StringifyJSON(replacement)
			if err != nil {
				log.Warnf("cannot encode sensitive data for placeholder %s: %v", placeholder, err)
				return match
			}
			return strings.TrimSuffix(strings.TrimPrefix(encoded, `"`), `"`)
		}
		log.Warnf("missing sensitive data for placeholder %s", placeholder)
		return match
	})
}

// CreateActionModel selects actions for the output schema. A nil
// includeActions keeps every action; with a url only actions available on
// that page are kept, without one every action is kept.
func (r *Registry) CreateActionModel(includeActions []string, url *string) *ActionModel {
	availableActions := make(map[string]*RegisteredAction)
	for name, action := range r.Registry.Actions {
		if includeActions != nil && !slices.Contains(includeActions, name) {
			continue
		}
		if url != nil && action.IsFiltered() && !action.MatchesPage(*url) {
			continue
		}
		availableActions[name] = action
	}
	return &ActionModel{Actions: availableActions}
}

func (r *Registry) GetPromptDescription(url *string) string {
	return r.Registry.GetPromptDescription(url)
}
