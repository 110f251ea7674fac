package utils_test

import (
	"testing"

	"github.com/nerdface-ai/browser-agent-go/internals/utils"
	"github.com/stretchr/testify/assert"
)

func TestGetDefaultValue(t *testing.T) {
	config := map[string]interface{}{
		"max_failures": 5,
		"use_vision":   false,
		"name":         "agent",
	}
	assert.Equal(t, 5, utils.GetDefaultValue(config, "max_failures", 3))
	assert.Equal(t, false, utils.GetDefaultValue(config, "use_vision", true))
	assert.Equal(t, "agent", utils.GetDefaultValue(config, "name", ""))
	assert.Equal(t, 10, utils.GetDefaultValue(config, "missing", 10))
	// wrong type falls back
	assert.Equal(t, 1.5, utils.GetDefaultValue(config, "name", 1.5))
	assert.Equal(t, 7, utils.GetDefaultValue[int](nil, "max_failures", 7))
}

func TestMatchDomains(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		url      string
		expected bool
	}{
		{"no patterns", nil, "https://anything.com", true},
		{"exact host", []string{"www.bing.com"}, "https://www.bing.com/search?q=go", true},
		{"wildcard subdomain", []string{"*.google.com"}, "https://mail.google.com", true},
		{"wildcard covers bare domain", []string{"*.google.com"}, "https://google.com", true},
		{"wildcard tld", []string{"yahoo.*"}, "https://yahoo.co", true},
		{"port ignored", []string{"localhost"}, "http://localhost:8080/x", true},
		{"no match", []string{"*.google.com"}, "https://example.com", false},
		{"single star does not cross dots", []string{"*.google.com"}, "https://a.b.google.com", false},
		{"empty url", []string{"*.google.com"}, "", false},
		{"case insensitive", []string{"*.Google.com"}, "https://MAIL.google.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, utils.MatchDomains(tt.patterns, tt.url))
		})
	}
}
