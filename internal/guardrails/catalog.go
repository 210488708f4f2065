package guardrails

import (
	"fmt"
	"regexp"
	"strings"
)

// Category names a class of personally identifiable information.
type Category string

const (
	CategoryEmail      Category = "email"
	CategoryCreditCard Category = "credit_card"
	CategorySSN        Category = "ssn"
	CategoryAadhaar    Category = "aadhaar"
	CategoryIPAddress  Category = "ip_address"
	CategoryPAN        Category = "pan"
	CategoryPhone      Category = "phone"
)

// Placeholder returns the redaction token for the category, e.g. [REDACTED_EMAIL].
func (c Category) Placeholder() string {
	return "[REDACTED_" + strings.ToUpper(string(c)) + "]"
}

// Profile selects a recall/precision trade-off for the looser patterns.
type Profile string

const (
	// ProfileBalanced requires grouped digits with word boundaries for phone numbers.
	ProfileBalanced Profile = "balanced"
	// ProfileHighRecall accepts almost any 7+ digit run as a phone number.
	ProfileHighRecall Profile = "high_recall"
)

// ParseProfile maps a config string to a Profile. Empty means balanced.
func ParseProfile(s string) (Profile, error) {
	switch Profile(strings.ToLower(strings.TrimSpace(s))) {
	case "", ProfileBalanced:
		return ProfileBalanced, nil
	case ProfileHighRecall:
		return ProfileHighRecall, nil
	default:
		return "", fmt.Errorf("unknown pattern profile %q", s)
	}
}

// The order of this table is the redaction order: most specific first,
// phone last because its pattern would otherwise eat fragments of card,
// SSN and national ID numbers.
var defaultPIIPatterns = []struct {
	category Category
	expr     string
}{
	{CategoryEmail, `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`},
	{CategoryCreditCard, `\b(?:\d{4}[-\s]?){3}\d{4}\b`},
	{CategorySSN, `\b\d{3}-\d{2}-\d{4}\b`},
	{CategoryAadhaar, `\b\d{4}\s?\d{4}\s?\d{4}\b`},
	{CategoryIPAddress, `\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`},
	{CategoryPAN, `\b[A-Z]{5}\d{4}[A-Z]\b`},
	{CategoryPhone, phoneBalanced},
}

const (
	phoneBalanced   = `(?:\+\d{1,3}[-.\s]?)?(?:\(\d{3}\)|\b\d{3})[-.\s]?\d{3}[-.\s]\d{4}\b`
	phoneHighRecall = `(?:\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}`
)

// Injection phrases are matched case-insensitively against lower-cased text.
var defaultInjectionPhrases = []string{
	`ignore\s+(all\s+)?previous\s+instructions`,
	`ignore\s+the\s+above`,
	`disregard\s+(all\s+)?previous`,
	`forget\s+(all\s+)?(your\s+)?instructions`,
	`you\s+are\s+now\s+a`,
	`act\s+as\s+if`,
	`pretend\s+(you\s+are|to\s+be)`,
	`override\s+(your\s+)?(system|safety)`,
	`jailbreak`,
	`dan\s+mode`,
	`\[system\]`,
	`<\|system\|>`,
}

var categoryName = regexp.MustCompile(`^[a-z][a-z_]*$`)

// PIIPattern binds one category to its compiled pattern.
type PIIPattern struct {
	Category Category
	Pattern  *regexp.Regexp
}

// InjectionPhrase is a compiled injection pattern and the source it was
// compiled from, which is what detectors report.
type InjectionPhrase struct {
	Source  string
	Pattern *regexp.Regexp
}

// Catalog is the immutable set of PII patterns and injection phrases shared by
// the detectors. Build it once at startup and share it freely.
type Catalog struct {
	pii       []PIIPattern
	injection []InjectionPhrase
}

type catalogSettings struct {
	profile   Profile
	disabled  map[Category]bool
	overrides []override
	phrases   []string
}

type override struct {
	category Category
	expr     string
}

// CatalogOption customizes a catalog built by NewCatalog.
type CatalogOption func(*catalogSettings)

// WithProfile selects the phone pattern profile.
func WithProfile(p Profile) CatalogOption {
	return func(s *catalogSettings) { s.profile = p }
}

// WithDisabled drops categories from the catalog.
func WithDisabled(categories ...Category) CatalogOption {
	return func(s *catalogSettings) {
		for _, c := range categories {
			s.disabled[c] = true
		}
	}
}

// WithPattern replaces the pattern for a known category, or appends a new
// category after the built-in ones.
func WithPattern(category Category, expr string) CatalogOption {
	return func(s *catalogSettings) {
		s.overrides = append(s.overrides, override{category: category, expr: expr})
	}
}

// WithInjectionPhrases appends extra injection phrases after the defaults.
func WithInjectionPhrases(exprs ...string) CatalogOption {
	return func(s *catalogSettings) { s.phrases = append(s.phrases, exprs...) }
}

// NewCatalog compiles the default tables with the given options applied.
// Any pattern that fails to compile, or that would match a redaction
// placeholder, is an error.
func NewCatalog(opts ...CatalogOption) (*Catalog, error) {
	cs := &catalogSettings{profile: ProfileBalanced, disabled: map[Category]bool{}}
	for _, opt := range opts {
		opt(cs)
	}

	type entry struct {
		category Category
		expr     string
	}
	entries := make([]entry, 0, len(defaultPIIPatterns)+len(cs.overrides))
	for _, p := range defaultPIIPatterns {
		expr := p.expr
		if p.category == CategoryPhone && cs.profile == ProfileHighRecall {
			expr = phoneHighRecall
		}
		entries = append(entries, entry{p.category, expr})
	}

	for _, o := range cs.overrides {
		if !categoryName.MatchString(string(o.category)) {
			return nil, fmt.Errorf("invalid category name %q: use lower-case letters and underscores", o.category)
		}
		replaced := false
		for i := range entries {
			if entries[i].category == o.category {
				entries[i].expr = o.expr
				replaced = true
				break
			}
		}
		if !replaced {
			entries = append(entries, entry{o.category, o.expr})
		}
	}

	c := &Catalog{}
	for _, e := range entries {
		if cs.disabled[e.category] {
			continue
		}
		re, err := regexp.Compile(e.expr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s pattern: %w", e.category, err)
		}
		c.pii = append(c.pii, PIIPattern{Category: e.category, Pattern: re})
	}

	// Placeholders must be inert or redaction stops being idempotent.
	for _, p := range c.pii {
		for _, q := range c.pii {
			if p.Pattern.MatchString(q.Category.Placeholder()) {
				return nil, fmt.Errorf("%s pattern matches placeholder %s", p.Category, q.Category.Placeholder())
			}
		}
	}

	for _, src := range append(append([]string{}, defaultInjectionPhrases...), cs.phrases...) {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + src)
		if err != nil {
			return nil, fmt.Errorf("failed to compile injection phrase %q: %w", src, err)
		}
		c.injection = append(c.injection, InjectionPhrase{Source: src, Pattern: re})
	}

	return c, nil
}

var defaultCatalog = mustCatalog()

func mustCatalog() *Catalog {
	c, err := NewCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultCatalog returns the built-in catalog with the balanced profile.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// PII returns the PII patterns in redaction order.
func (c *Catalog) PII() []PIIPattern {
	return append([]PIIPattern(nil), c.pii...)
}

// Injection returns the injection phrases in evaluation order.
func (c *Catalog) Injection() []InjectionPhrase {
	return append([]InjectionPhrase(nil), c.injection...)
}

// Categories lists the enabled categories in redaction order.
func (c *Catalog) Categories() []Category {
	out := make([]Category, len(c.pii))
	for i, p := range c.pii {
		out[i] = p.Category
	}
	return out
}
