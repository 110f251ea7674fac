package dom

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	validClassNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)
	xpathIndexPattern     = regexp.MustCompile(`\[([^\]]+)\]`)
)

// attributes that are stable enough to be part of a selector
var safeAttributes = []string{
	"id",
	"name",
	"type",
	"placeholder",
	"aria-label",
	"aria-labelledby",
	"aria-describedby",
	"role",
	"for",
	"autocomplete",
	"required",
	"readonly",
	"alt",
	"title",
	"src",
	"href",
	"target",
}

var dynamicAttributes = []string{
	"data-id",
	"data-qa",
	"data-cy",
	"data-testid",
}

// ConvertSimpleXpathToCssSelector turns "/html/body/div[1]" into
// "html > body > div:nth-of-type(1)".
func ConvertSimpleXpathToCssSelector(xpath string) string {
	if xpath == "" {
		return ""
	}
	parts := strings.Split(strings.TrimPrefix(xpath, "/"), "/")
	cssParts := make([]string, 0, len(parts))

	for _, part := range parts {
		if part == "" {
			continue
		}
		base := part
		if i := strings.Index(part, "["); i >= 0 {
			base = part[:i]
		}
		// custom elements like "ns:tag"
		base = strings.ReplaceAll(base, ":", `\:`)

		for _, m := range xpathIndexPattern.FindAllStringSubmatch(part, -1) {
			idx := strings.TrimSpace(m[1])
			switch {
			case idx == "last()":
				base += ":last-of-type"
			case strings.Contains(idx, "position()") && strings.Contains(idx, ">1"):
				base += ":nth-of-type(n+2)"
			default:
				if n, err := strconv.Atoi(idx); err == nil {
					base += fmt.Sprintf(":nth-of-type(%d)", n)
				}
			}
		}
		cssParts = append(cssParts, base)
	}
	return strings.Join(cssParts, " > ")
}

// EnhancedCssSelectorForElement builds a selector from the element's xpath,
// its valid class names and its stable attributes.
func EnhancedCssSelectorForElement(el *DOMElementNode, includeDynamicAttributes bool) string {
	selector := ConvertSimpleXpathToCssSelector(el.Xpath)

	if class, ok := el.Attr("class"); ok && class != "" {
		for _, className := range strings.Fields(class) {
			if validClassNamePattern.MatchString(className) {
				selector += "." + className
			}
		}
	}

	allowed := append([]string{}, safeAttributes...)
	if includeDynamicAttributes {
		allowed = append(allowed, dynamicAttributes...)
	}

	if el.Attributes != nil {
		for pair := el.Attributes.Oldest(); pair != nil; pair = pair.Next() {
			name, value := pair.Key, pair.Value
			if name == "class" || strings.TrimSpace(name) == "" || !slices.Contains(allowed, name) {
				continue
			}
			safeName := strings.ReplaceAll(name, ":", `\:`)
			switch {
			case value == "":
				selector += fmt.Sprintf("[%s]", safeName)
			case strings.ContainsAny(value, "\"'<>`\n\r\t"):
				// collapse whitespace and match loosely
				collapsed := strings.Join(strings.Fields(value), " ")
				selector += fmt.Sprintf(`[%s*="%s"]`, safeName, cssStringEscaper.Replace(collapsed))
			default:
				selector += fmt.Sprintf(`[%s="%s"]`, safeName, cssStringEscaper.Replace(value))
			}
		}
	}
	return selector
}

// escapes a value for a double-quoted css string
var cssStringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
