package browser

import (
	"fmt"
	"net"
	"os"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/nerdface-ai/browser-agent-go/internals/utils"
	"github.com/playwright-community/playwright-go"
)

var inDocker = os.Getenv("IN_DOCKER") == "true"

var chromeArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-infobars",
	"--disable-background-timer-throttling",
	"--disable-popup-blocking",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--disable-window-activation",
	"--disable-focus-on-load",
	"--no-first-run",
	"--no-default-browser-check",
	"--remote-debugging-port=9222",
}

var chromeDockerArgs = []string{
	"--no-sandbox",
	"--disable-gpu-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--no-xshm",
	"--no-zygote",
	"--single-process",
}

var chromeHeadlessArgs = []string{"--headless=new"}

var chromeDisableSecurityArgs = []string{
	"--disable-web-security",
	"--disable-site-isolation-trials",
	"--disable-features=IsolateOrigins,site-per-process",
}

type BrowserConfig = map[string]interface{}

func NewBrowserConfig() BrowserConfig {
	return BrowserConfig{
		"headless":         false,
		"disable_security": false,
		"browser_class":    "chromium",
		"is_mobile":        false,
		"has_touch":        false,
		"keep_alive":       false,
	}
}

type Browser struct {
	Config            BrowserConfig
	Playwright        *playwright.Playwright
	PlaywrightBrowser playwright.Browser
}

func NewBrowser(customConfig BrowserConfig) *Browser {
	config := NewBrowserConfig()
	for key, value := range customConfig {
		config[key] = value
	}
	return &Browser{Config: config}
}

func (b *Browser) NewContext() *BrowserContext {
	return &BrowserContext{
		ContextId: uuid.New().String(),
		Config:    b.Config,
		Browser:   b,
	}
}

// GetPlaywrightBrowser launches the browser on first use.
func (b *Browser) GetPlaywrightBrowser() (playwright.Browser, error) {
	if b.PlaywrightBrowser != nil {
		return b.PlaywrightBrowser, nil
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}
	b.Playwright = pw

	browser, err := b.setupBuiltinBrowser(pw)
	if err != nil {
		_ = pw.Stop()
		b.Playwright = nil
		return nil, err
	}
	b.PlaywrightBrowser = browser
	return browser, nil
}

func (b *Browser) Close() error {
	var err error
	if b.PlaywrightBrowser != nil {
		err = b.PlaywrightBrowser.Close()
		b.PlaywrightBrowser = nil
	}
	if b.Playwright != nil {
		if stopErr := b.Playwright.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
		b.Playwright = nil
	}
	return err
}

// launchArgs assembles the chromium flags for the configured mode.
func (b *Browser) launchArgs(screenSize map[string]int, offsetX, offsetY int) []string {
	args := append([]string{}, chromeArgs...)
	if inDocker {
		args = append(args, chromeDockerArgs...)
	}
	if utils.GetDefaultValue(b.Config, "headless", false) {
		args = append(args, chromeHeadlessArgs...)
	}
	if utils.GetDefaultValue(b.Config, "disable_security", false) {
		args = append(args, chromeDisableSecurityArgs...)
	}
	args = append(args,
		fmt.Sprintf("--window-position=%d,%d", offsetX, offsetY),
		fmt.Sprintf("--window-size=%d,%d", screenSize["width"], screenSize["height"]),
	)
	args = append(args, utils.GetDefaultValue(b.Config, "extra_browser_args", []string{})...)

	// another browser already owns the debugging port
	if ln, err := net.Listen("tcp", "127.0.0.1:9222"); err != nil {
		for i, arg := range args {
			if arg == "--remote-debugging-port=9222" {
				args = append(args[:i], args[i+1:]...)
				break
			}
		}
	} else {
		ln.Close()
	}
	return args
}

// Sets up and returns a Playwright Browser instance with anti-detection measures.
func (b *Browser) setupBuiltinBrowser(pw *playwright.Playwright) (playwright.Browser, error) {
	headless := utils.GetDefaultValue(b.Config, "headless", false)
	screenSize := utils.GetDefaultValue(b.Config, "browser_window_size", map[string]int(nil))
	offsetX, offsetY := 0, 0
	if screenSize == nil {
		if headless {
			screenSize = map[string]int{"width": 1920, "height": 1080}
		} else {
			screenSize = getScreenResolution()
			offsetX, offsetY = getWindowAdjustments()
		}
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless:      playwright.Bool(headless),
		Args:          b.launchArgs(screenSize, offsetX, offsetY),
		HandleSIGTERM: playwright.Bool(false),
		HandleSIGINT:  playwright.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("launching chromium: %w", err)
	}
	log.Debugf("🌎 Launched chromium (headless=%t)", headless)
	return browser, nil
}
