package dom

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const TextNodeType = "TEXT_NODE"

// Attributes keeps element attributes in document order.
type Attributes = orderedmap.OrderedMap[string, string]

// NewAttributes builds Attributes from alternating key/value pairs.
func NewAttributes(kv ...string) *Attributes {
	attrs := orderedmap.New[string, string]()
	for i := 0; i+1 < len(kv); i += 2 {
		attrs.Set(kv[i], kv[i+1])
	}
	return attrs
}

// Base interface for all DOM nodes
type DOMBaseNode interface {
	GetParent() *DOMElementNode
	SetParent(parent *DOMElementNode)
	Visible() bool
}

type DOMTextNode struct {
	Text      string          `json:"text"`
	Type      string          `json:"type"`
	IsVisible bool            `json:"is_visible"`
	Parent    *DOMElementNode `json:"-"`
}

func NewDOMTextNode(text string, isVisible bool) *DOMTextNode {
	return &DOMTextNode{Text: text, Type: TextNodeType, IsVisible: isVisible}
}

func (n *DOMTextNode) GetParent() *DOMElementNode  { return n.Parent }
func (n *DOMTextNode) SetParent(p *DOMElementNode) { n.Parent = p }
func (n *DOMTextNode) Visible() bool               { return n.IsVisible }

func (n *DOMTextNode) HasParentWithHighlightIndex() bool {
	visited := mapset.NewThreadUnsafeSet[*DOMElementNode]()
	for current := n.Parent; current != nil && visited.Add(current); current = current.Parent {
		if current.HighlightIndex != nil {
			return true
		}
	}
	return false
}

type DOMElementNode struct {
	TagName             string          `json:"tag_name"`
	Xpath               string          `json:"xpath"`
	Attributes          *Attributes     `json:"-"`
	Children            []DOMBaseNode   `json:"-"`
	IsVisible           bool            `json:"is_visible"`
	IsInteractive       bool            `json:"is_interactive"`
	IsTopElement        bool            `json:"is_top_element"`
	ShadowRoot          bool            `json:"shadow_root"`
	// InShadowRoot is set on the top-level children of a shadow root; their
	// xpath starts at the shadow root instead of the document.
	InShadowRoot        bool            `json:"in_shadow_root,omitempty"`
	HighlightIndex      *int            `json:"highlight_index,omitempty"`
	ViewportCoordinates *CoordinateSet  `json:"viewport_coordinates,omitempty"`
	PageCoordinates     *CoordinateSet  `json:"page_coordinates,omitempty"`
	ViewportInfo        *ViewportInfo   `json:"viewport_info,omitempty"`
	Parent              *DOMElementNode `json:"-"`

	hashOnce sync.Once
	hash     *HashedDomElement
}

func (n *DOMElementNode) GetParent() *DOMElementNode  { return n.Parent }
func (n *DOMElementNode) SetParent(p *DOMElementNode) { n.Parent = p }
func (n *DOMElementNode) Visible() bool               { return n.IsVisible }

// AppendChild adds child to the end of Children and points it back at n.
func (n *DOMElementNode) AppendChild(child DOMBaseNode) {
	child.SetParent(n)
	n.Children = append(n.Children, child)
}

// Attr returns the attribute value for key.
func (n *DOMElementNode) Attr(key string) (string, bool) {
	if n.Attributes == nil {
		return "", false
	}
	return n.Attributes.Get(key)
}

// AttributesMap copies the attributes into a plain map.
func (n *DOMElementNode) AttributesMap() map[string]string {
	m := make(map[string]string)
	if n.Attributes == nil {
		return m
	}
	for pair := n.Attributes.Oldest(); pair != nil; pair = pair.Next() {
		m[pair.Key] = pair.Value
	}
	return m
}

// Hash returns the element's identity hash, computed on first use.
func (n *DOMElementNode) Hash() *HashedDomElement {
	n.hashOnce.Do(func() {
		n.hash = HashDomElement(n)
	})
	return n.hash
}

func (n *DOMElementNode) String() string {
	var sb strings.Builder
	sb.WriteString("<" + n.TagName)
	if n.Attributes != nil {
		for pair := n.Attributes.Oldest(); pair != nil; pair = pair.Next() {
			fmt.Fprintf(&sb, " %s=\"%s\"", pair.Key, pair.Value)
		}
	}
	sb.WriteString(">")

	if n.IsInteractive {
		sb.WriteString(" interactive")
	}
	if n.IsTopElement {
		sb.WriteString(" top")
	}
	if n.ShadowRoot {
		sb.WriteString(" shadow-root")
	}
	if n.HighlightIndex != nil {
		fmt.Fprintf(&sb, " highlight:%d", *n.HighlightIndex)
	}
	return sb.String()
}

// GetAllTextTillNextClickableElement joins the text below n, not descending
// into other highlighted elements. maxDepth -1 means unlimited.
func (n *DOMElementNode) GetAllTextTillNextClickableElement(maxDepth int) string {
	var textParts []string
	visited := mapset.NewThreadUnsafeSet[*DOMElementNode]()

	var collectText func(node DOMBaseNode, depth int)
	collectText = func(node DOMBaseNode, depth int) {
		if maxDepth != -1 && depth > maxDepth {
			return
		}
		switch t := node.(type) {
		case *DOMTextNode:
			textParts = append(textParts, t.Text)
		case *DOMElementNode:
			if t != n && t.HighlightIndex != nil {
				return
			}
			if !visited.Add(t) {
				return
			}
			for _, child := range t.Children {
				collectText(child, depth+1)
			}
		}
	}
	collectText(n, 0)
	return strings.Join(textParts, "\n")
}

// ClickableElementsToString renders the highlighted elements and free text
// of the subtree, one line each.
func (n *DOMElementNode) ClickableElementsToString(includeAttributes []string) string {
	var formattedText []string
	visited := mapset.NewThreadUnsafeSet[*DOMElementNode]()

	var processNode func(node DOMBaseNode)
	processNode = func(node DOMBaseNode) {
		switch el := node.(type) {
		case *DOMElementNode:
			if !visited.Add(el) {
				return
			}
			if el.HighlightIndex != nil {
				formattedText = append(formattedText, fmt.Sprintf("[%d]<%s%s>%s</%s>",
					*el.HighlightIndex,
					el.TagName,
					el.attributesString(includeAttributes),
					el.GetAllTextTillNextClickableElement(-1),
					el.TagName,
				))
			}
			for _, child := range el.Children {
				processNode(child)
			}
		case *DOMTextNode:
			if el.IsVisible && !el.HasParentWithHighlightIndex() {
				formattedText = append(formattedText, "[]"+el.Text)
			}
		}
	}
	processNode(n)
	return strings.Join(formattedText, "\n")
}

func (n *DOMElementNode) attributesString(includeAttributes []string) string {
	if len(includeAttributes) == 0 || n.Attributes == nil {
		return ""
	}
	allowed := mapset.NewThreadUnsafeSet(includeAttributes...)
	var sb strings.Builder
	for pair := n.Attributes.Oldest(); pair != nil; pair = pair.Next() {
		if allowed.Contains(pair.Key) {
			fmt.Fprintf(&sb, " %s=\"%s\"", pair.Key, pair.Value)
		}
	}
	return sb.String()
}

func (n *DOMElementNode) isFileInput() bool {
	t, _ := n.Attr("type")
	return n.TagName == "input" && t == "file"
}

// GetFileUploadElement finds a file input at n, below n, or (with
// checkSiblings) below one of n's siblings.
func (n *DOMElementNode) GetFileUploadElement(checkSiblings bool) *DOMElementNode {
	visited := mapset.NewThreadUnsafeSet[*DOMElementNode]()
	if found := n.findFileInput(visited); found != nil {
		return found
	}
	if checkSiblings && n.Parent != nil {
		for _, sibling := range n.Parent.Children {
			el, ok := sibling.(*DOMElementNode)
			if !ok || el == n {
				continue
			}
			if found := el.findFileInput(visited); found != nil {
				return found
			}
		}
	}
	return nil
}

func (n *DOMElementNode) findFileInput(visited mapset.Set[*DOMElementNode]) *DOMElementNode {
	if !visited.Add(n) {
		return nil
	}
	if n.isFileInput() {
		return n
	}
	for _, child := range n.Children {
		if el, ok := child.(*DOMElementNode); ok {
			if found := el.findFileInput(visited); found != nil {
				return found
			}
		}
	}
	return nil
}

// LocatorChain returns the iframe and shadow host ancestors of n from the
// outermost inwards. Each entry's xpath is relative to the document or
// shadow root of the previous one.
func (n *DOMElementNode) LocatorChain() []*DOMElementNode {
	var chain []*DOMElementNode
	visited := mapset.NewThreadUnsafeSet[*DOMElementNode]()
	visited.Add(n)
	for child, current := n, n.Parent; current != nil && visited.Add(current); child, current = current, current.Parent {
		if current.TagName == "iframe" || (current.ShadowRoot && child.InShadowRoot) {
			chain = append([]*DOMElementNode{current}, chain...)
		}
	}
	return chain
}

type SelectorMap map[int]*DOMElementNode

// Indices returns the highlight indices in ascending order.
func (sm SelectorMap) Indices() []int {
	indices := make([]int, 0, len(sm))
	for idx := range sm {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// ElementAt returns the innermost highlighted element whose page box contains (x, y).
func (sm SelectorMap) ElementAt(x, y int) *DOMElementNode {
	var best *DOMElementNode
	bestArea := -1
	for _, idx := range sm.Indices() {
		el := sm[idx]
		box := el.PageCoordinates
		if box == nil || !box.Contains(x, y) {
			continue
		}
		area := box.Width * box.Height
		if best == nil || area < bestArea {
			best, bestArea = el, area
		}
	}
	return best
}

type DOMState struct {
	ElementTree *DOMElementNode
	SelectorMap SelectorMap
}

type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type CoordinateSet struct {
	TopLeft     Coordinates `json:"top_left"`
	TopRight    Coordinates `json:"top_right"`
	BottomLeft  Coordinates `json:"bottom_left"`
	BottomRight Coordinates `json:"bottom_right"`
	Center      Coordinates `json:"center"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
}

func NewCoordinateSet(x, y, width, height int) *CoordinateSet {
	return &CoordinateSet{
		TopLeft:     Coordinates{X: x, Y: y},
		TopRight:    Coordinates{X: x + width, Y: y},
		BottomLeft:  Coordinates{X: x, Y: y + height},
		BottomRight: Coordinates{X: x + width, Y: y + height},
		Center:      Coordinates{X: x + width/2, Y: y + height/2},
		Width:       width,
		Height:      height,
	}
}

func (c *CoordinateSet) Contains(x, y int) bool {
	return x >= c.TopLeft.X && x <= c.BottomRight.X && y >= c.TopLeft.Y && y <= c.BottomRight.Y
}

type ViewportInfo struct {
	ScrollX int `json:"scroll_x"`
	ScrollY int `json:"scroll_y"`
	Width   int `json:"width"`
	Height  int `json:"height"`
}
