// Package classify decides whether an engine run succeeded from its
// diagnostic text.
package classify

import (
	"strings"

	"github.com/entrhq/cadforge/pkg/config"
	"github.com/entrhq/cadforge/pkg/types"
)

// GUISubsystem is the module the headless engine lacks.
const GUISubsystem = "FreeCADGui"

// Tiers name the rule that produced a classification.
const (
	TierEmpty      = "empty"
	TierAllowList  = "allow-list"
	TierGUIMention = "gui-mention"
	TierDefault    = "default"
	TierTimeout    = "timeout"
)

// DefaultBenignMessages are diagnostics the headless engine emits when a
// script calls GUI accessors it does not have.
var DefaultBenignMessages = []string{
	"Exception while processing file: generated/result_script.py [module 'FreeCADGui' has no attribute 'activeDocument']",
	"Exception while processing file: generated/result_script.py [module 'FreeCADGui' has no attribute 'ActiveDocument']",
	"module 'FreeCADGui' has no attribute 'activeDocument'",
	"module 'FreeCADGui' has no attribute 'ActiveDocument'",
}

// Classification is an outcome together with the rule that decided it.
type Classification struct {
	Outcome types.Outcome
	Tier    string
}

// Classifier maps diagnostic text to an outcome. It is a pure function of
// its input and safe for concurrent use.
type Classifier struct {
	benign map[string]struct{}
	strict bool
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithBenignMessages adds exact-match entries to the allow-list.
func WithBenignMessages(msgs ...string) Option {
	return func(c *Classifier) {
		for _, m := range msgs {
			if m = strings.TrimSpace(m); m != "" {
				c.benign[m] = struct{}{}
			}
		}
	}
}

// WithStrict disables the broad GUI-mention rule.
func WithStrict(strict bool) Option {
	return func(c *Classifier) { c.strict = strict }
}

// New creates a classifier seeded with DefaultBenignMessages.
func New(opts ...Option) *Classifier {
	c := &Classifier{benign: make(map[string]struct{}, len(DefaultBenignMessages))}
	WithBenignMessages(DefaultBenignMessages...)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromConfig creates a classifier from the classifier section of the config.
func FromConfig(cfg config.ClassifierConfig) *Classifier {
	return New(WithBenignMessages(cfg.BenignMessages...), WithStrict(cfg.Strict))
}

// Classify returns the outcome for diagnostic text.
func (c *Classifier) Classify(text string) types.Outcome {
	return c.Explain(text).Outcome
}

// Explain classifies text and reports which rule matched.
func (c *Classifier) Explain(text string) Classification {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Classification{Outcome: types.OutcomeSuccess, Tier: TierEmpty}
	}
	if _, ok := c.benign[trimmed]; ok {
		return Classification{Outcome: types.OutcomeHarmlessFailure, Tier: TierAllowList}
	}
	if !c.strict && strings.Contains(trimmed, GUISubsystem) {
		return Classification{Outcome: types.OutcomeHarmlessFailure, Tier: TierGUIMention}
	}
	return Classification{Outcome: types.OutcomeRealFailure, Tier: TierDefault}
}

// ClassifyResult classifies an execution. A timed-out run is always a real
// failure, whatever it printed before being killed.
func (c *Classifier) ClassifyResult(res *types.ExecutionResult) Classification {
	if res != nil && res.TimedOut {
		return Classification{Outcome: types.OutcomeRealFailure, Tier: TierTimeout}
	}
	return c.Explain(res.Diagnostic())
}
