package dom

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

type HashedDomElement struct {
	BranchPathHash string
	AttributesHash string
	// Hash covers tag, branch path, attributes and same-tag sibling position.
	Hash string
}

type DOMHistoryElement struct {
	TagName                string            `json:"tag_name"`
	Xpath                  string            `json:"xpath"`
	HighlightIndex         *int              `json:"highlight_index,omitempty"`
	EntireParentBranchPath []string          `json:"entire_parent_branch_path"`
	SiblingPosition        int               `json:"sibling_position"`
	Attributes             map[string]string `json:"attributes"`
	ShadowRoot             bool              `json:"shadow_root"`
	CssSelector            string            `json:"css_selector,omitempty"`
	PageCoordinates        *CoordinateSet    `json:"page_coordinates,omitempty"`
	ViewportCoordinates    *CoordinateSet    `json:"viewport_coordinates,omitempty"`
	ViewportInfo           *ViewportInfo     `json:"viewport_info,omitempty"`
}

// HashDomElement derives the identity of el from its tag, attributes,
// ancestor chain and position among same-tag siblings.
func HashDomElement(el *DOMElementNode) *HashedDomElement {
	return hashParts(el.TagName, parentBranchPath(el), el.AttributesMap(), siblingPosition(el))
}

func hashDomHistoryElement(el *DOMHistoryElement) *HashedDomElement {
	return hashParts(el.TagName, el.EntireParentBranchPath, el.Attributes, el.SiblingPosition)
}

func hashParts(tagName string, branchPath []string, attributes map[string]string, position int) *HashedDomElement {
	branchPathHash := sha256Hex(strings.Join(branchPath, "/"))
	attributesHash := sha256Hex(normalizeAttributes(attributes))
	return &HashedDomElement{
		BranchPathHash: branchPathHash,
		AttributesHash: attributesHash,
		Hash:           sha256Hex(fmt.Sprintf("%s|%s|%s|%d", strings.ToLower(tagName), branchPathHash, attributesHash, position)),
	}
}

func sha256Hex(s string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(s)))
}

func normalizeAttributes(attributes map[string]string) string {
	keys := make([]string, 0, len(attributes))
	for key := range attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&sb, "%s=%s;", strings.ToLower(key), strings.TrimSpace(attributes[key]))
	}
	return sb.String()
}

func parentBranchPath(el *DOMElementNode) []string {
	parents := []string{}
	visited := mapset.NewThreadUnsafeSet(el)
	for current := el.Parent; current != nil && visited.Add(current); current = current.Parent {
		parents = append(parents, current.TagName)
	}
	slices.Reverse(parents)
	return parents
}

// siblingPosition is the 1-based position of el among its parent's children
// sharing its tag name.
func siblingPosition(el *DOMElementNode) int {
	if el.Parent == nil {
		return 1
	}
	position := 0
	for _, child := range el.Parent.Children {
		sibling, ok := child.(*DOMElementNode)
		if !ok || sibling.TagName != el.TagName {
			continue
		}
		position++
		if sibling == el {
			return position
		}
	}
	return 1
}

type HistoryTreeProcessor struct{}

func (h HistoryTreeProcessor) ConvertDomElementToHistoryElement(el *DOMElementNode) *DOMHistoryElement {
	return &DOMHistoryElement{
		TagName:                el.TagName,
		Xpath:                  el.Xpath,
		HighlightIndex:         el.HighlightIndex,
		EntireParentBranchPath: parentBranchPath(el),
		SiblingPosition:        siblingPosition(el),
		Attributes:             el.AttributesMap(),
		ShadowRoot:             el.ShadowRoot,
		CssSelector:            EnhancedCssSelectorForElement(el, false),
		PageCoordinates:        el.PageCoordinates,
		ViewportCoordinates:    el.ViewportCoordinates,
		ViewportInfo:           el.ViewportInfo,
	}
}

// FindHistoryElementInTree looks for the highlighted element in tree that
// matches a previously recorded element.
func (h HistoryTreeProcessor) FindHistoryElementInTree(historyElement *DOMHistoryElement, tree *DOMElementNode) *DOMElementNode {
	if historyElement == nil || tree == nil {
		return nil
	}
	target := hashDomHistoryElement(historyElement).Hash
	visited := mapset.NewThreadUnsafeSet[*DOMElementNode]()

	var processNode func(node *DOMElementNode) *DOMElementNode
	processNode = func(node *DOMElementNode) *DOMElementNode {
		if !visited.Add(node) {
			return nil
		}
		if node.HighlightIndex != nil && node.Hash().Hash == target {
			return node
		}
		for _, child := range node.Children {
			if el, ok := child.(*DOMElementNode); ok {
				if found := processNode(el); found != nil {
					return found
				}
			}
		}
		return nil
	}
	return processNode(tree)
}

func (h HistoryTreeProcessor) CompareHistoryElementAndDomElement(historyElement *DOMHistoryElement, el *DOMElementNode) bool {
	return hashDomHistoryElement(historyElement).Hash == el.Hash().Hash
}
