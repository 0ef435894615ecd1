package router

import (
	"regexp"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// refusalRule is one stage of the cascade; it fires independently of the
// others and the classifier returns the first rule that matches.
type refusalRule struct {
	reason   pipeline.RefusalReason
	patterns []*regexp.Regexp
}

// RefusalClassifier is a pure, side-effect-free short-circuit cascade of
// cheap keyword/pattern rules, grounded on the "unknown_patterns" keyword
// lists named in the external configuration surface.
type RefusalClassifier struct {
	rules []refusalRule
}

// NewRefusalClassifier builds the default cascade. unknownPatterns extends
// the built-in private-data keyword list per language (e.g. from the
// configured `unknown_patterns` surface); nil uses the defaults only.
func NewRefusalClassifier(unknownPatterns map[string][]string) *RefusalClassifier {
	c := &RefusalClassifier{
		rules: []refusalRule{
			{
				reason: pipeline.RefuseFutureEvent,
				patterns: compileAll(
					`\b(20[3-9]\d|21\d\d)\b`,
					`\bquien ganara\b`,
					`\bwho will win\b`,
					`\bproximas? elecciones\b`,
					`\bnext election\b`,
					`\bque pasara en\b`,
					`\bwhat will happen in\b`,
				),
			},
			{
				reason: pipeline.RefusePrivateInfo,
				patterns: compileAll(
					`\bmi contrasena\b`,
					`\bmy password\b`,
					`\bmi (?:ssn|numero de seguro social)\b`,
					`\bcredit card number\b`,
					`\bnumero de tarjeta\b`,
					`\bmi direccion\b`,
					`\bmy (?:home )?address\b`,
				),
			},
			{
				reason: pipeline.RefuseHallucinationRisk,
				patterns: compileAll(
					`\brecuerdas cuando\b`,
					`\bdo you remember when we\b`,
					`\bte acuerdas de\b`,
					`\bas i told you (?:before|earlier)\b`,
				),
			},
			{
				reason: pipeline.RefuseUnsafe,
				patterns: compileAll(
					`\bcomo (?:hackear|fabricar una bomba)\b`,
					`\bhow to (?:hack|make a bomb)\b`,
					`\bcomo envenenar\b`,
					`\bhow to poison\b`,
				),
			},
		},
	}
	for lang, patterns := range unknownPatterns {
		_ = lang
		c.rules[1].patterns = append(c.rules[1].patterns, compileAll(patterns...)...)
	}
	return c
}

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Classify returns the first refusal reason that fires, or ok=false if the
// utterance is clean.
func (c *RefusalClassifier) Classify(utterance string) (reason pipeline.RefusalReason, ok bool) {
	norm := normalize(utterance)
	for _, rule := range c.rules {
		for _, pattern := range rule.patterns {
			if pattern.MatchString(norm) {
				return rule.reason, true
			}
		}
	}
	return "", false
}
