// Package splitter breaks a generated text stream into TTS-sized sentences,
// abbreviation-aware, attaching per-sentence duration estimates for the
// streaming queue's overlap scheduler.
//
// Ported from the Python SentenceSplitter (sarai_agi/tts/sentence_splitter.py):
// same abbreviation protection trick (temporarily replace the dot in a known
// abbreviation so it survives the terminator split), same duration heuristic.
package splitter

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// spanishAbbrevs and englishAbbrevs must not be split on even though they end
// in a sentence terminator.
var spanishAbbrevs = []string{
	"Sr.", "Sra.", "Dr.", "Dra.", "Prof.", "Ing.", "Lic.",
	"etc.", "ej.", "p.ej.", "aprox.", "pág.", "cap.",
	"art.", "núm.", "vol.", "ed.", "máx.", "mín.",
	"a.C.", "d.C.", "EE.UU.", "p.m.", "a.m.",
}

var englishAbbrevs = []string{
	"Mr.", "Mrs.", "Ms.", "Dr.", "Prof.", "Sr.", "Jr.",
	"etc.", "e.g.", "i.e.", "approx.", "pg.", "ch.",
	"art.", "no.", "vol.", "ed.", "max.", "min.",
	"B.C.", "A.D.", "U.S.A.", "p.m.", "a.m.",
}

const abbrevPlaceholder = "\x00ABBREV\x00"

var sentenceEndPattern = regexp.MustCompile(`([.!?]+)\s+`)

// Splitter splits text into ordered Sentences for a single language.
type Splitter struct {
	lang           string
	charsPerSecond float64
	abbrevs        []string
}

// New builds a Splitter. lang is "es" or "en"; any other value falls back to
// the Spanish abbreviation list, matching the original's default. charsPerSecond
// defaults to 15 when <= 0.
func New(lang string, charsPerSecond float64) *Splitter {
	lang = strings.ToLower(lang)
	abbrevs := spanishAbbrevs
	if lang == "en" {
		abbrevs = englishAbbrevs
	}
	if charsPerSecond <= 0 {
		charsPerSecond = 15.0
	}
	return &Splitter{lang: lang, charsPerSecond: charsPerSecond, abbrevs: abbrevs}
}

// Split breaks text into an ordered, finite slice of Sentences. It performs
// no I/O and is deterministic given its inputs. The returned slice is not
// restartable — callers consume it as produced.
func (s *Splitter) Split(text string) []pipeline.Sentence {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	protected := s.protectAbbreviations(text)

	parts := sentenceEndPattern.Split(protected, -1)
	terms := sentenceEndPattern.FindAllString(protected, -1)

	var raw []string
	for i, part := range parts {
		current := part
		if i < len(terms) {
			// terms[i] is "punct + whitespace"; keep the punctuation, drop
			// the trailing whitespace that delimited the split.
			current += strings.TrimRight(terms[i], " \t\n\r")
		}
		if strings.TrimSpace(current) != "" {
			raw = append(raw, strings.TrimSpace(current))
		}
	}

	sentences := make([]pipeline.Sentence, 0, len(raw))
	for idx, sent := range raw {
		restored := s.restoreAbbreviations(sent)
		sentences = append(sentences, pipeline.Sentence{
			Ordinal:                  idx,
			Text:                     restored,
			IsQuestion:               isQuestion(restored),
			IsExclamation:            isExclamation(restored),
			EstimatedDurationSeconds: s.estimateDuration(restored),
		})
	}
	return sentences
}

func (s *Splitter) protectAbbreviations(text string) string {
	for _, abbrev := range s.abbrevs {
		placeholder := strings.ReplaceAll(abbrev, ".", abbrevPlaceholder)
		text = strings.ReplaceAll(text, abbrev, placeholder)
	}
	return text
}

func (s *Splitter) restoreAbbreviations(text string) string {
	return strings.ReplaceAll(text, abbrevPlaceholder, ".")
}

func isQuestion(text string) bool {
	return strings.ContainsRune(text, '¿') || strings.ContainsRune(text, '?')
}

func isExclamation(text string) bool {
	return strings.ContainsRune(text, '¡') || strings.ContainsRune(text, '!')
}

// estimateDuration implements estimated_duration_seconds =
// max(0.5, len(letters_only)/chars_per_second + tail_pause), where
// letters_only counts letters, digits and whitespace but not punctuation.
func (s *Splitter) estimateDuration(text string) float64 {
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			letters++
		}
	}

	duration := float64(letters) / s.charsPerSecond
	if strings.HasSuffix(text, "?") || strings.HasSuffix(text, "!") {
		duration += 0.3
	} else {
		duration += 0.2
	}

	if duration < 0.5 {
		duration = 0.5
	}
	return duration
}
