package guardrails

// PIIResult reports which categories were found in a text.
type PIIResult struct {
	Found      bool       `json:"found"`
	Categories []Category `json:"categories"`
}

// PIIDetector finds and redacts PII using a catalog.
type PIIDetector struct {
	patterns []PIIPattern
}

// NewPIIDetector creates a detector over the catalog. A nil catalog means the default.
func NewPIIDetector(c *Catalog) *PIIDetector {
	if c == nil {
		c = DefaultCatalog()
	}
	return &PIIDetector{patterns: c.pii}
}

// Detect tests every category against the original text. Categories are
// reported in catalog order, each at most once.
func (d *PIIDetector) Detect(text string) PIIResult {
	res := PIIResult{Categories: []Category{}}
	if text == "" {
		return res
	}
	for _, p := range d.patterns {
		if p.Pattern.MatchString(text) {
			res.Categories = append(res.Categories, p.Category)
		}
	}
	res.Found = len(res.Categories) > 0
	return res
}

// Redact replaces every match with its category placeholder, category by
// category in catalog order. Each category sees the output of the previous ones.
//
// A placeholder can open a word boundary that exposes a new match, so passes
// repeat until the text is stable. Every match consumes at least one digit or
// '@' and placeholders contain neither, which bounds the loop by len(text).
func (d *PIIDetector) Redact(text string) string {
	if text == "" {
		return text
	}
	for passes := len(text); passes >= 0; passes-- {
		next := d.redactOnce(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func (d *PIIDetector) redactOnce(text string) string {
	for _, p := range d.patterns {
		text = p.Pattern.ReplaceAllLiteralString(text, p.Category.Placeholder())
	}
	return text
}
