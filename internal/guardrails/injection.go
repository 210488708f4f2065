package guardrails

import "strings"

// InjectionResult reports the first injection phrase that matched.
type InjectionResult struct {
	Detected       bool   `json:"detected"`
	MatchedPattern string `json:"matched_pattern,omitempty"`
}

// InjectionDetector flags prompt-injection and jailbreak phrasing.
type InjectionDetector struct {
	phrases []InjectionPhrase
}

// NewInjectionDetector creates a detector over the catalog. A nil catalog means the default.
func NewInjectionDetector(c *Catalog) *InjectionDetector {
	if c == nil {
		c = DefaultCatalog()
	}
	return &InjectionDetector{phrases: c.injection}
}

// Detect returns on the first matching phrase in catalog order.
func (d *InjectionDetector) Detect(text string) InjectionResult {
	if text == "" {
		return InjectionResult{}
	}
	lower := strings.ToLower(text)
	for _, p := range d.phrases {
		if p.Pattern.MatchString(lower) {
			return InjectionResult{Detected: true, MatchedPattern: p.Source}
		}
	}
	return InjectionResult{}
}
