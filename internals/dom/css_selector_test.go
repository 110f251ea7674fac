package dom_test

import (
	"testing"

	"github.com/nerdface-ai/browser-agent-go/internals/dom"
	"github.com/stretchr/testify/assert"
)

func TestConvertSimpleXpathToCssSelector(t *testing.T) {
	tests := []struct {
		xpath    string
		expected string
	}{
		{"html/body/div", "html > body > div"},
		{"/html/body/div[1]/span[2]", "html > body > div:nth-of-type(1) > span:nth-of-type(2)"},
		{"", ""},
		{"/html/body/ul/li[last()]", "html > body > ul > li:last-of-type"},
		{"/html/body/ul/li[position()>1]", "html > body > ul > li:nth-of-type(n+2)"},
		{"/html/body/svg:rect", `html > body > svg\:rect`},
	}
	for _, tt := range tests {
		t.Run(tt.xpath, func(t *testing.T) {
			assert.Equal(t, tt.expected, dom.ConvertSimpleXpathToCssSelector(tt.xpath))
		})
	}
}

func TestEnhancedCssSelectorForElement(t *testing.T) {
	el := &dom.DOMElementNode{
		TagName: "div",
		Xpath:   "/html/body/div",
		Attributes: dom.NewAttributes(
			"class", "foo bar 1invalid",
			"id", "123",
			"data-qa", "test",
			"non_safe", "should_not_be_included",
		),
		IsVisible:      true,
		HighlightIndex: intPtr(0),
	}

	selector := dom.EnhancedCssSelectorForElement(el, true)
	assert.Equal(t, `html > body > div.foo.bar[id="123"][data-qa="test"]`, selector)
	assert.NotContains(t, selector, "non_safe")

	withoutDynamic := dom.EnhancedCssSelectorForElement(el, false)
	assert.NotContains(t, withoutDynamic, "data-qa")

	quoted := &dom.DOMElementNode{
		TagName:    "input",
		Xpath:      "/html/body/input",
		Attributes: dom.NewAttributes("placeholder", "say \"hi\"\n now", "required", ""),
	}
	assert.Equal(t, `html > body > input[placeholder*="say \"hi\" now"][required]`, dom.EnhancedCssSelectorForElement(quoted, false))

	backslashed := &dom.DOMElementNode{
		TagName:    "input",
		Xpath:      "/html/body/input",
		Attributes: dom.NewAttributes("name", `C:\temp\file`, "placeholder", `a\b "c"`),
	}
	assert.Equal(t, `html > body > input[name="C:\\temp\\file"][placeholder*="a\\b \"c\""]`, dom.EnhancedCssSelectorForElement(backslashed, false))
}
