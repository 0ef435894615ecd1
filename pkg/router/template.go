// Package router implements the tripartite router: the template engine (A),
// the unknown/refusal classifier (B), and the router itself (G), which
// stages a Template check, then a Refusal check, then a cheap complexity
// scorer to pick a generation tier.
//
// The template catalogue is grounded on the canned-reply dictionary in the
// original SAUL gRPC fallback (modules/__init__.py's greeting/status/
// thanks/time/default categories).
package router

import (
	"strings"
	"unicode"
)

// TemplateCategory is one catalogue entry: a set of substring patterns and
// the replies to draw from on a match.
type TemplateCategory struct {
	Name     string
	Patterns []string
	Replies  []string
}

// Catalogue is a language-indexed set of TemplateCategories.
type Catalogue map[string][]TemplateCategory

// DefaultCatalogue returns the built-in Spanish/English catalogue, grounded
// on the original template dictionary's categories.
func DefaultCatalogue() Catalogue {
	return Catalogue{
		"es": {
			{
				Name:     "greetings",
				Patterns: []string{"hola", "hey", "buenos dias", "buenas tardes"},
				Replies: []string{
					"¡Hola! ¿En qué puedo ayudarte?",
					"¡Buenas! Estoy aquí para ayudarte.",
					"Hola. ¿Qué necesitas?",
				},
			},
			{
				Name:     "confirmations",
				Patterns: []string{"como estas", "que tal", "todo bien"},
				Replies: []string{
					"Todo bien por aquí. ¿Cómo puedo ayudarte?",
					"Estoy funcionando perfectamente. ¿Y tú?",
					"¡Genial! ¿En qué te puedo asistir?",
				},
			},
			{
				Name:     "thanks",
				Patterns: []string{"gracias", "muchas gracias"},
				Replies: []string{
					"¡De nada! Estoy aquí para ayudarte.",
					"¡Con gusto! Si necesitas algo más, avísame.",
					"¡Encantado de ayudar!",
				},
			},
			{
				Name:     "farewells",
				Patterns: []string{"adios", "hasta luego", "nos vemos"},
				Replies: []string{
					"¡Hasta pronto!",
					"¡Nos vemos!",
				},
			},
			{
				Name:     "help",
				Patterns: []string{"ayuda", "que puedes hacer"},
				Replies: []string{
					"Puedo responder preguntas, buscar información y conversar contigo.",
				},
			},
			{
				Name:     "status",
				Patterns: []string{"que hora", "hora es", "dime la hora"},
				Replies: []string{
					"No manejo la hora directamente, pero puedo ayudarte con otras cosas.",
					"Para la hora, te recomiendo usar un reloj. ¿Algo más?",
				},
			},
		},
		"en": {
			{
				Name:     "greetings",
				Patterns: []string{"hi", "hey", "hello", "good morning", "good afternoon"},
				Replies: []string{
					"Hi! How can I help you?",
					"Hey there, I'm here to help.",
				},
			},
			{
				Name:     "confirmations",
				Patterns: []string{"how are you", "what's up"},
				Replies: []string{
					"All good here. How can I help?",
					"Running perfectly, thanks for asking!",
				},
			},
			{
				Name:     "thanks",
				Patterns: []string{"thanks", "thank you"},
				Replies: []string{
					"You're welcome!",
					"Happy to help!",
				},
			},
			{
				Name:     "farewells",
				Patterns: []string{"bye", "goodbye", "see you"},
				Replies: []string{
					"See you soon!",
					"Goodbye!",
				},
			},
			{
				Name:     "help",
				Patterns: []string{"help", "what can you do"},
				Replies: []string{
					"I can answer questions, search the web, and chat with you.",
				},
			},
			{
				Name:     "status",
				Patterns: []string{"what time is it", "tell me the time"},
				Replies: []string{
					"I don't track the time directly, but I can help with other things.",
				},
			},
		},
	}
}

// TemplateEngine matches normalized utterances against a precomputed
// per-language index. Exact normalized forms hit a hash index; only when
// that lookup misses are the language's patterns scanned in catalogue order
// for a substring match, so a miss costs time linear in catalogue size.
type TemplateEngine struct {
	catalogue Catalogue
	exact     map[string]map[string]*TemplateCategory // lang -> normalized pattern -> category
	fallback  map[string][]*TemplateCategory          // lang -> categories with substring patterns, scan order
}

// NewTemplateEngine precomputes the lookup index from catalogue.
func NewTemplateEngine(catalogue Catalogue) *TemplateEngine {
	e := &TemplateEngine{
		catalogue: catalogue,
		exact:     make(map[string]map[string]*TemplateCategory),
		fallback:  make(map[string][]*TemplateCategory),
	}
	for lang, categories := range catalogue {
		e.exact[lang] = make(map[string]*TemplateCategory)
		for i := range categories {
			cat := &categories[i]
			e.fallback[lang] = append(e.fallback[lang], cat)
			for _, pattern := range cat.Patterns {
				e.exact[lang][normalize(pattern)] = cat
			}
		}
	}
	return e
}

// Match returns the matched category and a reply drawn from it, or ok=false
// if no entry matches. Deterministic per (language, catalogue revision):
// reply selection is a fixed rotation over the category's replies keyed by
// the normalized utterance, not randomized, so repeated calls with the same
// input return the same reply.
func (e *TemplateEngine) Match(language, utterance string) (category, reply string, ok bool) {
	norm := normalize(utterance)
	if norm == "" {
		return "", "", false
	}

	if cat, found := e.exact[language][norm]; found {
		return cat.Name, pickReply(cat, norm), true
	}

	for _, cat := range e.fallback[language] {
		for _, pattern := range cat.Patterns {
			if strings.Contains(norm, normalize(pattern)) {
				return cat.Name, pickReply(cat, norm), true
			}
		}
	}
	return "", "", false
}

func pickReply(cat *TemplateCategory, seed string) string {
	if len(cat.Replies) == 0 {
		return ""
	}
	idx := 0
	for _, r := range seed {
		idx += int(r)
	}
	return cat.Replies[idx%len(cat.Replies)]
}

// normalize casefolds, trims, and collapses punctuation/whitespace, matching
// the contract in §4.A.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(stripAccent(r))
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteRune(' ')
				prevSpace = true
			}
		default:
			// punctuation collapses to nothing
		}
	}
	return strings.TrimSpace(b.String())
}

var accentFold = map[rune]rune{
	'á': 'a', 'é': 'e', 'í': 'i', 'ó': 'o', 'ú': 'u', 'ñ': 'n', 'ü': 'u',
}

func stripAccent(r rune) rune {
	if folded, ok := accentFold[r]; ok {
		return folded
	}
	return r
}
