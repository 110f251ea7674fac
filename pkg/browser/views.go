package browser

import (
	"fmt"
	"strings"

	"github.com/nerdface-ai/browser-agent-go/internals/dom"
)

type TabInfo struct {
	PageId       int    `json:"page_id"`
	Url          string `json:"url"`
	Title        string `json:"title"`
	ParentPageId *int   `json:"parent_page_id,omitempty"`
}

func (t *TabInfo) String() string {
	return fmt.Sprintf("TabInfo(page_id=%d, url=%s, title=%s)", t.PageId, t.Url, t.Title)
}

func TabsToString(tabs []*TabInfo) string {
	lines := make([]string, 0, len(tabs))
	for _, tab := range tabs {
		lines = append(lines, tab.String())
	}
	return "[" + strings.Join(lines, ", ") + "]"
}

// BrowserState is one observation of the browser. The selector map points
// into ElementTree and must not outlive it.
type BrowserState struct {
	Url           string
	Title         string
	Tabs          []*TabInfo
	Screenshot    *string
	PixelsAbove   int
	PixelsBelow   int
	BrowserErrors []string
	ElementTree   *dom.DOMElementNode
	SelectorMap   dom.SelectorMap
}

// HasScreenshot reports whether a non-empty screenshot was captured.
func (s *BrowserState) HasScreenshot() bool {
	return s.Screenshot != nil && *s.Screenshot != ""
}

type BrowserStateHistory struct {
	Url               string                   `json:"url"`
	Title             string                   `json:"title"`
	Tabs              []*TabInfo               `json:"tabs"`
	InteractedElement []*dom.DOMHistoryElement `json:"interacted_element"`
	Screenshot        *string                  `json:"screenshot,omitempty"`
}

// BrowserError is the base error type for all browser errors.
type BrowserError struct {
	Message string
}

func (e *BrowserError) Error() string {
	return e.Message
}

// URLNotAllowedError is returned when a URL is not allowed.
type URLNotAllowedError struct {
	BrowserError
	Url string
}

func NewURLNotAllowedError(url string) error {
	return &URLNotAllowedError{
		BrowserError: BrowserError{Message: "Navigation to non-allowed URL: " + url},
		Url:          url,
	}
}
