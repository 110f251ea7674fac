package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/charmbracelet/log"
	"github.com/nerdface-ai/browser-agent-go/internals/dom"
	"github.com/nerdface-ai/browser-agent-go/internals/utils"
	"github.com/playwright-community/playwright-go"
)

const antiDetectionScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = { runtime: {} };
(function () {
	const originalAttachShadow = Element.prototype.attachShadow;
	Element.prototype.attachShadow = function attachShadow(options) {
		return originalAttachShadow.call(this, { ...options, mode: "open" });
	};
})();`

const scrollInfoScript = `() => [
	window.scrollY,
	Math.max(0, document.documentElement.scrollHeight - window.scrollY - window.innerHeight)
]`

type BrowserSession struct {
	Context     playwright.BrowserContext
	CachedState *BrowserState
}

type BrowserContext struct {
	ContextId string
	Config    BrowserConfig
	Browser   *Browser
	Session   *BrowserSession

	// ActiveTab is also written by playwright's page event goroutine.
	mu        sync.Mutex
	ActiveTab playwright.Page
}

func (bc *BrowserContext) setActiveTab(page playwright.Page) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.ActiveTab = page
}

func (bc *BrowserContext) activeTab() playwright.Page {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.ActiveTab
}

// GetSession creates the playwright context and first page on first use.
func (bc *BrowserContext) GetSession() (*BrowserSession, error) {
	if bc.Session != nil {
		return bc.Session, nil
	}
	return bc.initializeSession()
}

func (bc *BrowserContext) initializeSession() (*BrowserSession, error) {
	log.Infof("🌎 Initializing new browser context with id: %s", bc.ContextId)
	pwBrowser, err := bc.Browser.GetPlaywrightBrowser()
	if err != nil {
		return nil, err
	}

	pwContext, err := bc.createContext(pwBrowser)
	if err != nil {
		return nil, err
	}
	bc.Session = &BrowserSession{Context: pwContext}

	page, err := pwContext.NewPage()
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	if _, err := page.Goto("about:blank"); err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	log.Debugf("🆕 Created new page: %s", page.URL())
	bc.setActiveTab(page)

	pwContext.OnPage(func(p playwright.Page) {
		if !isInternalPage(p.URL()) {
			log.Debugf("📑 New page opened: %s", p.URL())
			bc.setActiveTab(p)
		}
	})
	return bc.Session, nil
}

// Creates a new browser context with anti-detection measures.
func (bc *BrowserContext) createContext(browser playwright.Browser) (playwright.BrowserContext, error) {
	disableSecurity := utils.GetDefaultValue(bc.Config, "disable_security", false)
	options := playwright.BrowserNewContextOptions{
		NoViewport:        playwright.Bool(true),
		JavaScriptEnabled: playwright.Bool(true),
		BypassCSP:         playwright.Bool(disableSecurity),
		IgnoreHttpsErrors: playwright.Bool(disableSecurity),
		IsMobile:          playwright.Bool(utils.GetDefaultValue(bc.Config, "is_mobile", false)),
		HasTouch:          playwright.Bool(utils.GetDefaultValue(bc.Config, "has_touch", false)),
	}
	if userAgent := utils.GetDefaultValue(bc.Config, "user_agent", ""); userAgent != "" {
		options.UserAgent = playwright.String(userAgent)
	}
	if locale := utils.GetDefaultValue(bc.Config, "locale", ""); locale != "" {
		options.Locale = playwright.String(locale)
	}
	pwContext, err := browser.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("creating browser context: %w", err)
	}
	script := antiDetectionScript
	if err := pwContext.AddInitScript(playwright.Script{Content: &script}); err != nil {
		log.Warnf("failed to add init script: %v", err)
	}
	return pwContext, nil
}

func isInternalPage(url string) bool {
	return strings.HasPrefix(url, "chrome://") || strings.HasPrefix(url, "chrome-extension://")
}

// GetCurrentPage returns the active tab, falling back to the most recently
// opened regular page.
func (bc *BrowserContext) GetCurrentPage() (playwright.Page, error) {
	session, err := bc.GetSession()
	if err != nil {
		return nil, err
	}
	pages := session.Context.Pages()
	if active := bc.activeTab(); active != nil && !active.IsClosed() && slices.Contains(pages, active) {
		return active, nil
	}
	for i := len(pages) - 1; i >= 0; i-- {
		if !isInternalPage(pages[i].URL()) {
			bc.setActiveTab(pages[i])
			return pages[i], nil
		}
	}
	page, err := session.Context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dom.ErrPageUnavailable, err)
	}
	bc.setActiveTab(page)
	return page, nil
}

func (bc *BrowserContext) isUrlAllowed(url string) bool {
	allowed := utils.GetDefaultValue(bc.Config, "allowed_domains", []string{})
	if len(allowed) == 0 || url == "about:blank" {
		return true
	}
	return utils.MatchDomains(allowed, url)
}

func (bc *BrowserContext) NavigateTo(url string) error {
	if !bc.isUrlAllowed(url) {
		return NewURLNotAllowedError(url)
	}
	page, err := bc.GetCurrentPage()
	if err != nil {
		return err
	}
	if _, err := page.Goto(url); err != nil {
		return &BrowserError{Message: fmt.Sprintf("navigating to %s: %v", url, err)}
	}
	return page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{State: playwright.LoadStateDomcontentloaded})
}

// GetState extracts a fresh observation of the current page. The previous
// selector map is replaced.
func (bc *BrowserContext) GetState(ctx context.Context, useVision bool) (*BrowserState, error) {
	page, err := bc.GetCurrentPage()
	if err != nil {
		return nil, err
	}
	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{State: playwright.LoadStateDomcontentloaded}); err != nil {
		log.Debugf("page did not reach domcontentloaded: %v", err)
	}

	if !bc.isUrlAllowed(page.URL()) {
		log.Warnf("⛔ Navigated to non-allowed URL: %s", page.URL())
		if _, err := page.Goto("about:blank"); err != nil {
			return nil, fmt.Errorf("%w: %v", dom.ErrPageUnavailable, err)
		}
	}

	domState, err := dom.NewDomService(page).GetClickableElements(ctx, dom.ExtractOptions{
		ViewportExpansion: utils.GetDefaultValue(bc.Config, "viewport_expansion", 500),
		IncludeInvisible:  utils.GetDefaultValue(bc.Config, "include_invisible", false),
	})
	if err != nil {
		return nil, err
	}

	tabs, err := bc.GetTabsInfo()
	if err != nil {
		return nil, err
	}
	title, err := page.Title()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dom.ErrPageUnavailable, err)
	}
	above, below := bc.scrollInfo(page)

	state := &BrowserState{
		Url:         page.URL(),
		Title:       title,
		Tabs:        tabs,
		PixelsAbove: above,
		PixelsBelow: below,
		ElementTree: domState.ElementTree,
		SelectorMap: domState.SelectorMap,
	}
	if useVision {
		shot, err := page.Screenshot()
		if err != nil {
			state.BrowserErrors = append(state.BrowserErrors, fmt.Sprintf("screenshot failed: %v", err))
		} else {
			encoded := base64.StdEncoding.EncodeToString(shot)
			state.Screenshot = &encoded
		}
	}

	if session, err := bc.GetSession(); err == nil {
		session.CachedState = state
	}
	return state, nil
}

// scrollInfo returns the pixels above and below the viewport.
func (bc *BrowserContext) scrollInfo(page playwright.Page) (int, int) {
	result, err := page.Evaluate(scrollInfoScript)
	if err != nil {
		log.Debugf("failed to read scroll info: %v", err)
		return 0, 0
	}
	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0
	}
	return toInt(values[0]), toInt(values[1])
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func (bc *BrowserContext) GetTabsInfo() ([]*TabInfo, error) {
	session, err := bc.GetSession()
	if err != nil {
		return nil, err
	}
	var tabs []*TabInfo
	for i, page := range session.Context.Pages() {
		title, err := page.Title()
		if err != nil {
			title = ""
		}
		tabs = append(tabs, &TabInfo{PageId: i, Url: page.URL(), Title: title})
	}
	return tabs, nil
}

// GetSelectorMap returns the selector map of the last observation.
func (bc *BrowserContext) GetSelectorMap() dom.SelectorMap {
	if bc.Session == nil || bc.Session.CachedState == nil {
		return dom.SelectorMap{}
	}
	return bc.Session.CachedState.SelectorMap
}

func (bc *BrowserContext) GetDomElementByIndex(index int) (*dom.DOMElementNode, error) {
	element, ok := bc.GetSelectorMap()[index]
	if !ok {
		return nil, &BrowserError{Message: fmt.Sprintf("element with index %d does not exist - retry or use alternative actions", index)}
	}
	return element, nil
}

// LocateElement resolves an element to a playwright locator, descending
// through the iframes and shadow hosts that contain it.
func (bc *BrowserContext) LocateElement(element *dom.DOMElementNode) (playwright.Locator, error) {
	page, err := bc.GetCurrentPage()
	if err != nil {
		return nil, err
	}
	includeDynamic := utils.GetDefaultValue(bc.Config, "include_dynamic_attributes", true)
	selector := dom.EnhancedCssSelectorForElement(element, includeDynamic)

	// scope is the innermost shadow host, frame the innermost iframe
	var (
		frame playwright.FrameLocator
		scope playwright.Locator
	)
	locate := func(sel string) playwright.Locator {
		switch {
		case scope != nil:
			return scope.Locator(sel)
		case frame != nil:
			return frame.Locator(sel)
		default:
			return page.Locator(sel)
		}
	}
	for _, ancestor := range element.LocatorChain() {
		sel := dom.EnhancedCssSelectorForElement(ancestor, includeDynamic)
		if ancestor.TagName != "iframe" {
			scope = locate(sel).First()
			continue
		}
		switch {
		case scope != nil:
			frame = scope.FrameLocator(sel)
		case frame != nil:
			frame = frame.FrameLocator(sel)
		default:
			frame = page.FrameLocator(sel)
		}
		scope = nil
	}
	return locate(selector).First(), nil
}

// PageMarkdown converts the current page to markdown for content extraction.
func (bc *BrowserContext) PageMarkdown() (string, error) {
	page, err := bc.GetCurrentPage()
	if err != nil {
		return "", err
	}
	html, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("%w: %v", dom.ErrPageUnavailable, err)
	}
	return htmlToMarkdown(html)
}

func htmlToMarkdown(html string) (string, error) {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
	return conv.ConvertString(html)
}

func (bc *BrowserContext) Close() {
	if bc.Session == nil {
		return
	}
	if !utils.GetDefaultValue(bc.Config, "keep_alive", false) {
		if err := bc.Session.Context.Close(); err != nil {
			log.Warnf("🪨 Failed to close browser context: %s", err)
		}
	}
	bc.Session = nil
	bc.setActiveTab(nil)
}
