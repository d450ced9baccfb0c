// Package categorise assigns taxonomy labels to event text.
package categorise

import (
	"context"
	"strings"
	"time"

	appLog "campuscal/internal/log"
	"campuscal/internal/model"
)

const DefaultTimeout = 20 * time.Second

// Model is a generative text capability. Implementations must not retain
// state between calls.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Categoriser classifies free text into the fixed taxonomy. It is safe for
// concurrent use when its Model is.
type Categoriser struct {
	model    Model
	taxonomy []model.Label
	timeout  time.Duration
}

// New returns a Categoriser over m. A non-positive timeout selects
// DefaultTimeout.
func New(m Model, timeout time.Duration) *Categoriser {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Categoriser{model: m, taxonomy: model.Taxonomy, timeout: timeout}
}

// Classify returns the labels for text. Empty text is Unknown without a
// model call. A failed call yields no labels. Unknown never appears
// alongside another label.
func (c *Categoriser) Classify(ctx context.Context, text string) []model.Label {
	text = strings.TrimSpace(text)
	if text == "" {
		return []model.Label{model.LabelUnknown}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.model.Generate(ctx, Prompt(c.taxonomy, text))
	if err != nil {
		appLog.Error("categorise: classification failed", err)
		return []model.Label{}
	}
	return ParseLabels(resp)
}

// Prompt renders the classification instruction for one piece of text.
func Prompt(taxonomy []model.Label, text string) string {
	names := make([]string, len(taxonomy))
	for i, l := range taxonomy {
		names[i] = string(l)
	}

	var b strings.Builder
	b.WriteString("You are an event categoriser. Categorise the event summary below into any of these categories: {")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("}. An event can belong to multiple categories. If the summary is empty or cannot be deciphered, ")
	b.WriteString("categorise it as Unknown. If the category is Unknown, the event cannot belong to any other category. ")
	b.WriteString("Respond with only the categories, separated by commas.\n\n")
	b.WriteString(text)
	return b.String()
}

// ParseLabels maps a model reply onto the taxonomy. Unrecognised tokens are
// dropped; Unknown is dropped when real labels are present; a reply with no
// recognisable label is Unknown.
func ParseLabels(resp string) []model.Label {
	seen := make(map[model.Label]bool)
	var labels []model.Label
	unknown := false

	fields := strings.FieldsFunc(resp, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
	for _, f := range fields {
		l, ok := model.ParseLabel(strings.Trim(f, " \t.{}*\"'"))
		if !ok {
			continue
		}
		if l == model.LabelUnknown {
			unknown = true
			continue
		}
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}

	if len(labels) == 0 {
		if !unknown {
			appLog.Debug("categorise: reply had no recognised labels", "reply", resp)
		}
		return []model.Label{model.LabelUnknown}
	}
	return labels
}
