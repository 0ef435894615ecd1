package router

import (
	"strings"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// complexPatterns always indicate the request needs real reasoning;
// simplePatterns always indicate it doesn't. Ported from the original
// ThinkModeClassifier's COMPLEX_PATTERNS / SIMPLE_PATTERNS.
var complexPatterns = compileAll(
	`\b(?:calcula|resuelve|ecuacion|integral|derivada|probabilidad)\b`,
	`\d+\s*[+\-*/^]\s*\d+`,
	`\b(?:demuestra|demuestre|prueba que)\b`,
	`\b(?:implementa|crea funcion|algoritmo|debug|optimiza|refactoriza|refactor)\b`,
	"```",
	`\b(?:mejora el codigo|mejor performance)\b`,
	`\b(?:analiza|compara|evalua|deduce|infiere|razona)\b`,
	`\b(?:pros y contras|ventajas desventajas)\b`,
	`\b(?:paso a paso|step by step|detalladamente)\b`,
	`\b(?:por que|why|como funciona|how (?:does|do))\b`,
	`\b(?:disena|arquitectura|escalabilidad|trade[-\s]?off)\b`,
	`\b(?:explica.*detalle|explain.*detail)\b`,
)

var simplePatterns = compileAll(
	`^¿?(?:hola|hi|hello|hey)\b`,
	`^¿?(?:que tal|como estas|how are you)\b`,
	`^(?:gracias|thanks|thank you)\b`,
	`^(?:si|no|ok|vale|sure)\b`,
)

var webQueryPatterns = compileAll(
	`\b(?:busca|buscar|search for|look up|latest news|ultimas noticias)\b`,
	`\b(?:precio actual|current price|clima en|weather in)\b`,
)

// ComplexityScore holds the cheap scorer's output for one utterance.
type ComplexityScore struct {
	Hard       float64
	Soft       float64
	Web        float64
	Confidence float64
}

// ScoreComplexity produces hard/soft/web scores and a confidence in [0,1].
// Matching a complex pattern pushes Hard and confidence toward 1; matching a
// simple pattern pushes Hard toward 0 with high confidence; web-query
// markers populate Web independently.
func ScoreComplexity(utterance string) ComplexityScore {
	norm := strings.ToLower(strings.TrimSpace(utterance))

	score := ComplexityScore{Hard: 0.4, Soft: 0.3, Web: 0.0, Confidence: 0.5}

	for _, p := range simplePatterns {
		if p.MatchString(norm) {
			score.Hard = 0.05
			score.Confidence = 0.95
			break
		}
	}
	for _, p := range complexPatterns {
		if p.MatchString(norm) {
			score.Hard = 0.85
			score.Confidence = 0.9
			break
		}
	}
	for _, p := range webQueryPatterns {
		if p.MatchString(norm) {
			score.Web = 0.8
			break
		}
	}

	// Empathic / emotionally-loaded phrasing raises Soft independent of Hard.
	if strings.Contains(norm, "me siento") || strings.Contains(norm, "i feel") ||
		strings.Contains(norm, "estoy triste") || strings.Contains(norm, "i'm sad") {
		score.Soft = 0.6
	}

	return score
}

// classifyReasoning decides On/Off for the secondary reasoning-mode
// classifier: complex/simple regex markers take precedence, otherwise
// length >= thresholdChars defaults to On.
func classifyReasoning(utterance string, thresholdChars int) pipeline.ReasoningMode {
	norm := strings.ToLower(strings.TrimSpace(utterance))

	for _, p := range simplePatterns {
		if p.MatchString(norm) {
			return pipeline.ReasoningOff
		}
	}
	for _, p := range complexPatterns {
		if p.MatchString(norm) {
			return pipeline.ReasoningOn
		}
	}
	if thresholdChars <= 0 {
		thresholdChars = 200
	}
	if len(utterance) >= thresholdChars {
		return pipeline.ReasoningOn
	}
	return pipeline.ReasoningOff
}
