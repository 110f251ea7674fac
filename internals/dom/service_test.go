package dom_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nerdface-ai/browser-agent-go/internals/dom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	url     string
	payload interface{}
	err     error
	calls   int
}

func (p *fakePage) Evaluate(expression string, arg ...interface{}) (interface{}, error) {
	p.calls++
	return p.payload, p.err
}

func (p *fakePage) URL() string { return p.url }

// body > [text, div > [button, hidden input, text], a(offscreen), span(invisible) > text(invisible)]
const snapshot = `{
  "rootId": "0",
  "viewport": {"scroll_x": 0, "scroll_y": 100, "width": 800, "height": 600},
  "map": {
    "0": {"tagName": "BODY", "xpath": "html/body", "attributes": [], "children": ["1", "2", "6", "7"], "isVisible": true, "isTopElement": true, "rect": {"x": 0, "y": 0, "width": 800, "height": 2000}},
    "1": {"type": "TEXT_NODE", "text": "Welcome", "isVisible": true},
    "2": {"tagName": "div", "xpath": "html/body/div", "attributes": [["id", "main"], ["class", "c"]], "children": ["3", "4", "5"], "isVisible": true, "isTopElement": true, "rect": {"x": 0, "y": 0, "width": 800, "height": 100}},
    "3": {"tagName": "button", "xpath": "html/body/div/button", "attributes": [["type", "submit"], ["aria-label", "Go"]], "children": ["8"], "isVisible": true, "isTopElement": true, "rect": {"x": 10, "y": 10, "width": 50, "height": 20}},
    "4": {"tagName": "input", "xpath": "html/body/div/input", "attributes": [["type", "hidden"]], "children": [], "isVisible": true, "isTopElement": true, "rect": {"x": 0, "y": 0, "width": 1, "height": 1}},
    "5": {"type": "TEXT_NODE", "text": "footer", "isVisible": true},
    "6": {"tagName": "a", "xpath": "html/body/a", "attributes": [["href", "/far"]], "children": [], "isVisible": true, "isTopElement": true, "rect": {"x": 0, "y": 1500, "width": 50, "height": 20}},
    "7": {"tagName": "span", "xpath": "html/body/span", "attributes": [["role", "button"]], "children": ["9"], "isVisible": false, "isTopElement": true, "rect": {"x": 0, "y": 0, "width": 0, "height": 0}},
    "8": {"type": "TEXT_NODE", "text": "Search", "isVisible": true},
    "9": {"type": "TEXT_NODE", "text": "secret", "isVisible": false}
  }
}`

func extract(t *testing.T, payload string, opts dom.ExtractOptions) *dom.DOMState {
	t.Helper()
	state, err := dom.NewDomService(&fakePage{url: "https://example.com", payload: payload}).GetClickableElements(context.Background(), opts)
	require.NoError(t, err)
	return state
}

func TestGetClickableElements(t *testing.T) {
	state := extract(t, snapshot, dom.ExtractOptions{ViewportExpansion: 0})

	require.Len(t, state.SelectorMap, 1)
	button := state.SelectorMap[0]
	assert.Equal(t, "button", button.TagName)
	assert.Equal(t, 0, *button.HighlightIndex)
	assert.Equal(t, "body", state.ElementTree.TagName)
	assert.Equal(t, `[]Welcome
[0]<button aria-label="Go">Search</button>
[]footer`, state.ElementTree.ClickableElementsToString([]string{"aria-label"}))

	// attribute order is preserved from the page
	assert.Equal(t, `<div id="main" class="c"> top`, button.Parent.String())
	assert.Equal(t, 110, button.PageCoordinates.TopLeft.Y)
	assert.Equal(t, 10, button.ViewportCoordinates.TopLeft.Y)
}

func TestGetClickableElementsViewportExpansion(t *testing.T) {
	state := extract(t, snapshot, dom.ExtractOptions{ViewportExpansion: 1000})
	require.Len(t, state.SelectorMap, 2)
	assert.Equal(t, "button", state.SelectorMap[0].TagName)
	assert.Equal(t, "a", state.SelectorMap[1].TagName)

	whole := extract(t, snapshot, dom.ExtractOptions{ViewportExpansion: -1})
	assert.Len(t, whole.SelectorMap, 2)
}

func TestGetClickableElementsInvisible(t *testing.T) {
	state := extract(t, snapshot, dom.ExtractOptions{ViewportExpansion: -1})
	for _, child := range state.ElementTree.Children {
		if el, ok := child.(*dom.DOMElementNode); ok {
			assert.NotEqual(t, "span", el.TagName, "invisible subtree should be pruned")
		}
	}

	withHidden := extract(t, snapshot, dom.ExtractOptions{ViewportExpansion: -1, IncludeInvisible: true})
	var span *dom.DOMElementNode
	for _, child := range withHidden.ElementTree.Children {
		if el, ok := child.(*dom.DOMElementNode); ok && el.TagName == "span" {
			span = el
		}
	}
	require.NotNil(t, span)
	assert.True(t, span.IsInteractive)
	assert.Nil(t, span.HighlightIndex, "invisible elements are never highlighted")
	assert.Len(t, withHidden.SelectorMap, 2)
}

func TestGetClickableElementsDeterministic(t *testing.T) {
	first := extract(t, snapshot, dom.ExtractOptions{ViewportExpansion: -1})
	second := extract(t, snapshot, dom.ExtractOptions{ViewportExpansion: -1})

	require.Equal(t, first.SelectorMap.Indices(), second.SelectorMap.Indices())
	for _, idx := range first.SelectorMap.Indices() {
		assert.Equal(t, first.SelectorMap[idx].Xpath, second.SelectorMap[idx].Xpath)
		assert.Equal(t, first.SelectorMap[idx].Hash(), second.SelectorMap[idx].Hash())
		assert.NotSame(t, first.SelectorMap[idx], second.SelectorMap[idx])
	}
}

func TestGetClickableElementsFocus(t *testing.T) {
	full := extract(t, snapshot, dom.ExtractOptions{ViewportExpansion: -1})
	focus := dom.HistoryTreeProcessor{}.ConvertDomElementToHistoryElement(full.SelectorMap[1])

	state := extract(t, snapshot, dom.ExtractOptions{ViewportExpansion: -1, Focus: focus})
	assert.Equal(t, "a", state.ElementTree.TagName)
	// renumbered within the focused subtree
	assert.Equal(t, []int{0}, state.SelectorMap.Indices())
	assert.Equal(t, 0, *state.ElementTree.HighlightIndex)
	assert.Same(t, state.ElementTree, state.SelectorMap[0])

	missing := &dom.DOMHistoryElement{TagName: "video"}
	fallback := extract(t, snapshot, dom.ExtractOptions{ViewportExpansion: -1, Focus: missing})
	assert.Equal(t, "body", fallback.ElementTree.TagName)
}

func TestGetClickableElementsNestedPointerChild(t *testing.T) {
	// <a href><span>Buy</span></a> <div onclick-like><b>Sale</b></div> <div><span pointer>Menu</span></div>
	payload := `{"rootId": "0", "map": {
	  "0": {"tagName": "body", "xpath": "html/body", "children": ["1", "4", "7"], "isVisible": true, "isTopElement": true},
	  "1": {"tagName": "a", "xpath": "html/body/a", "attributes": [["href", "/buy"]], "children": ["2"], "isVisible": true, "isInteractive": true, "isTopElement": true},
	  "2": {"tagName": "span", "xpath": "html/body/a/span", "children": ["3"], "isVisible": true, "isInteractive": true, "isTopElement": true},
	  "3": {"type": "TEXT_NODE", "text": "Buy", "isVisible": true},
	  "4": {"tagName": "div", "xpath": "html/body/div[1]", "children": ["5"], "isVisible": true, "isInteractive": true, "isTopElement": true},
	  "5": {"tagName": "b", "xpath": "html/body/div[1]/b", "children": ["6"], "isVisible": true, "isInteractive": true, "isTopElement": true},
	  "6": {"type": "TEXT_NODE", "text": "Sale", "isVisible": true},
	  "7": {"tagName": "div", "xpath": "html/body/div[2]", "children": ["8"], "isVisible": true, "isTopElement": true},
	  "8": {"tagName": "span", "xpath": "html/body/div[2]/span", "children": ["9"], "isVisible": true, "isInteractive": true, "isTopElement": true},
	  "9": {"type": "TEXT_NODE", "text": "Menu", "isVisible": true}
	}}`
	state := extract(t, payload, dom.ExtractOptions{ViewportExpansion: -1})

	require.Len(t, state.SelectorMap, 3)
	assert.Equal(t, "a", state.SelectorMap[0].TagName)
	assert.Equal(t, "div", state.SelectorMap[1].TagName)
	assert.Equal(t, "span", state.SelectorMap[2].TagName)
	assert.Equal(t, `[0]<a href="/buy">Buy</a>
[1]<div>Sale</div>
[2]<span>Menu</span>`, state.ElementTree.ClickableElementsToString([]string{"href"}))
}

func TestGetClickableElementsEmptyAndBlank(t *testing.T) {
	empty := extract(t, `{"rootId": "0", "map": {"0": {"tagName": "body", "children": [], "isVisible": true}}}`, dom.ExtractOptions{})
	assert.Empty(t, empty.SelectorMap)
	assert.Equal(t, "", empty.ElementTree.ClickableElementsToString(nil))

	noBody := extract(t, `{"rootId": null, "map": {}}`, dom.ExtractOptions{})
	assert.Empty(t, noBody.SelectorMap)

	page := &fakePage{url: "about:blank"}
	blank, err := dom.NewDomService(page).GetClickableElements(context.Background(), dom.ExtractOptions{})
	require.NoError(t, err)
	assert.Empty(t, blank.SelectorMap)
	assert.Equal(t, 0, page.calls)
}

func TestGetClickableElementsToleratesRepeatedIds(t *testing.T) {
	payload := `{"rootId": "0", "map": {
	  "0": {"tagName": "body", "children": ["1"], "isVisible": true, "isTopElement": true},
	  "1": {"tagName": "button", "children": ["0", "1"], "isVisible": true, "isTopElement": true}
	}}`
	state := extract(t, payload, dom.ExtractOptions{ViewportExpansion: -1})
	assert.Len(t, state.SelectorMap, 1)
}

func TestGetClickableElementsPageUnavailable(t *testing.T) {
	tests := []struct {
		name string
		page *fakePage
	}{
		{"evaluate error", &fakePage{url: "https://x.com", err: errors.New("Target page, context or browser has been closed")}},
		{"wrong payload type", &fakePage{url: "https://x.com", payload: 42}},
		{"malformed json", &fakePage{url: "https://x.com", payload: `{"rootId": `}},
		{"text root", &fakePage{url: "https://x.com", payload: `{"rootId": "0", "map": {"0": {"type": "TEXT_NODE", "text": "x", "isVisible": true}}}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dom.NewDomService(tt.page).GetClickableElements(context.Background(), dom.ExtractOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, dom.ErrPageUnavailable)
		})
	}
}

func TestGetClickableElementsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := dom.NewDomService(&fakePage{url: "https://x.com", payload: snapshot}).GetClickableElements(ctx, dom.ExtractOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
