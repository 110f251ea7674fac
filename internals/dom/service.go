package dom

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/nerdface-ai/browser-agent-go/internals/utils"
)

//go:embed build_dom_tree.js
var buildDomTreeJS string

// ErrPageUnavailable marks extraction failures caused by a closed, detached
// or navigating page. Callers may retry after the page settles.
var ErrPageUnavailable = errors.New("page unavailable")

var interactiveTags = mapset.NewSet(
	"a", "button", "input", "select", "textarea", "details", "summary", "option", "label",
)

var interactiveRoles = mapset.NewSet(
	"button", "link", "checkbox", "radio", "menuitem", "menuitemcheckbox", "menuitemradio",
	"tab", "switch", "textbox", "combobox", "searchbox", "option", "slider", "spinbutton",
)

// Page is the part of a browser page the extraction needs.
// playwright.Page satisfies it.
type Page interface {
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
	URL() string
}

type ExtractOptions struct {
	// ViewportExpansion is how many pixels beyond the viewport still count
	// as visible. -1 takes the whole page.
	ViewportExpansion int
	IncludeInvisible  bool
	// Focus limits the result to the subtree of a previously seen element.
	Focus *DOMHistoryElement
}

type DomService struct {
	page Page
}

func NewDomService(page Page) *DomService {
	return &DomService{page: page}
}

type rawRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type rawNode struct {
	Type          string      `json:"type"`
	Text          string      `json:"text"`
	TagName       string      `json:"tagName"`
	Xpath         string      `json:"xpath"`
	Attributes    [][2]string `json:"attributes"`
	Children      []string    `json:"children"`
	IsVisible     bool        `json:"isVisible"`
	IsInteractive bool        `json:"isInteractive"`
	IsTopElement  bool        `json:"isTopElement"`
	ShadowRoot    bool        `json:"shadowRoot"`
	InShadowRoot  bool        `json:"inShadowRoot"`
	Rect          *rawRect    `json:"rect"`
}

type rawDomTree struct {
	RootId   *string             `json:"rootId"`
	Map      map[string]*rawNode `json:"map"`
	Viewport *ViewportInfo       `json:"viewport"`
}

func (s *DomService) GetClickableElements(ctx context.Context, opts ExtractOptions) (*DOMState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.page.URL() == "about:blank" {
		return &DOMState{
			ElementTree: &DOMElementNode{TagName: "body", Xpath: "", Attributes: NewAttributes(), IsVisible: false},
			SelectorMap: SelectorMap{},
		}, nil
	}

	raw, err := s.evaluate(opts)
	if err != nil {
		return nil, err
	}
	return buildDomState(raw, opts)
}

func (s *DomService) evaluate(opts ExtractOptions) (*rawDomTree, error) {
	result, err := s.page.Evaluate(buildDomTreeJS, map[string]interface{}{
		"includeInvisible": opts.IncludeInvisible,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: evaluating dom tree: %v", ErrPageUnavailable, err)
	}
	payload, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected dom tree payload %T", ErrPageUnavailable, result)
	}
	var raw rawDomTree
	if err := utils.ParseJSON(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding dom tree: %v", ErrPageUnavailable, err)
	}
	return &raw, nil
}

func buildDomState(raw *rawDomTree, opts ExtractOptions) (*DOMState, error) {
	if raw.RootId == nil {
		// documents without a body are valid and empty
		return &DOMState{ElementTree: &DOMElementNode{TagName: "body", Attributes: NewAttributes()}, SelectorMap: SelectorMap{}}, nil
	}
	b := &treeBuilder{
		raw:      raw,
		opts:     opts,
		visited:  mapset.NewThreadUnsafeSet[string](),
		viewport: raw.Viewport,
	}
	node := b.build(*raw.RootId, nil)
	root, ok := node.(*DOMElementNode)
	if !ok || root == nil {
		return nil, fmt.Errorf("%w: root node %q is not an element", ErrPageUnavailable, *raw.RootId)
	}

	selectorMap := SelectorMap{}
	assignHighlightIndices(root, selectorMap, opts.ViewportExpansion, raw.Viewport)

	if opts.Focus != nil {
		focused := HistoryTreeProcessor{}.FindHistoryElementInTree(opts.Focus, root)
		if focused == nil {
			log.Warnf("focus element <%s> not found, returning full tree", opts.Focus.TagName)
		} else {
			// indices start at 0 within the focused subtree too
			for _, el := range selectorMap {
				el.HighlightIndex = nil
			}
			root = focused
			selectorMap = SelectorMap{}
			assignHighlightIndices(root, selectorMap, opts.ViewportExpansion, raw.Viewport)
		}
	}
	return &DOMState{ElementTree: root, SelectorMap: selectorMap}, nil
}

type treeBuilder struct {
	raw      *rawDomTree
	opts     ExtractOptions
	visited  mapset.Set[string]
	viewport *ViewportInfo
}

func (b *treeBuilder) build(id string, parent *DOMElementNode) DOMBaseNode {
	if !b.visited.Add(id) {
		log.Debugf("dom node %s referenced twice, skipping", id)
		return nil
	}
	raw, ok := b.raw.Map[id]
	if !ok || raw == nil {
		return nil
	}

	if raw.Type == TextNodeType {
		if raw.Text == "" || (!raw.IsVisible && !b.opts.IncludeInvisible) {
			return nil
		}
		text := NewDOMTextNode(raw.Text, raw.IsVisible)
		text.Parent = parent
		return text
	}

	el := &DOMElementNode{
		TagName:      strings.ToLower(raw.TagName),
		Xpath:        raw.Xpath,
		Attributes:   NewAttributes(),
		IsVisible:    raw.IsVisible,
		IsTopElement: raw.IsTopElement,
		ShadowRoot:   raw.ShadowRoot,
		InShadowRoot: raw.InShadowRoot,
		ViewportInfo: b.viewport,
		Parent:       parent,
	}
	for _, attr := range raw.Attributes {
		el.Attributes.Set(attr[0], attr[1])
	}
	// a page signal such as the pointer cursor is inherited by descendants,
	// so it only counts outside an interactive ancestor
	el.IsInteractive = isInteractiveElement(el) || (raw.IsInteractive && !hasInteractiveAncestor(parent))
	if raw.Rect != nil {
		el.ViewportCoordinates = NewCoordinateSet(raw.Rect.X, raw.Rect.Y, raw.Rect.Width, raw.Rect.Height)
		scrollX, scrollY := 0, 0
		if b.viewport != nil {
			scrollX, scrollY = b.viewport.ScrollX, b.viewport.ScrollY
		}
		el.PageCoordinates = NewCoordinateSet(raw.Rect.X+scrollX, raw.Rect.Y+scrollY, raw.Rect.Width, raw.Rect.Height)
	}

	for _, childId := range raw.Children {
		if child := b.build(childId, el); child != nil {
			el.Children = append(el.Children, child)
		}
	}

	if !el.IsVisible && !b.opts.IncludeInvisible && len(el.Children) == 0 && parent != nil {
		return nil
	}
	return el
}

func hasInteractiveAncestor(el *DOMElementNode) bool {
	for current := el; current != nil; current = current.Parent {
		if current.IsInteractive {
			return true
		}
	}
	return false
}

func isInteractiveElement(el *DOMElementNode) bool {
	if interactiveTags.Contains(el.TagName) {
		if el.TagName == "input" {
			t, _ := el.Attr("type")
			return t != "hidden"
		}
		return true
	}
	if role, ok := el.Attr("role"); ok && interactiveRoles.Contains(strings.ToLower(role)) {
		return true
	}
	if v, ok := el.Attr("contenteditable"); ok && (v == "" || v == "true") {
		return true
	}
	if _, ok := el.Attr("onclick"); ok {
		return true
	}
	if v, ok := el.Attr("tabindex"); ok && v != "" && !strings.HasPrefix(v, "-") {
		return true
	}
	return false
}

func inExpandedViewport(el *DOMElementNode, expansion int, viewport *ViewportInfo) bool {
	if expansion == -1 || viewport == nil || el.ViewportCoordinates == nil {
		return true
	}
	box := el.ViewportCoordinates
	return box.BottomRight.Y > -expansion &&
		box.TopLeft.Y < viewport.Height+expansion &&
		box.BottomRight.X > -expansion &&
		box.TopLeft.X < viewport.Width+expansion
}

// assignHighlightIndices numbers actionable elements depth-first from 0.
func assignHighlightIndices(root *DOMElementNode, selectorMap SelectorMap, expansion int, viewport *ViewportInfo) {
	next := 0
	var walk func(el *DOMElementNode)
	walk = func(el *DOMElementNode) {
		el.HighlightIndex = nil
		if el.IsInteractive && el.IsVisible && el.IsTopElement && inExpandedViewport(el, expansion, viewport) {
			idx := next
			el.HighlightIndex = &idx
			selectorMap[idx] = el
			next++
		}
		for _, child := range el.Children {
			if childEl, ok := child.(*DOMElementNode); ok {
				walk(childEl)
			}
		}
	}
	walk(root)
}
