package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

func utt(text, lang string) pipeline.Utterance {
	return pipeline.Utterance{Text: text, Language: lang}
}

func TestRoute_GreetingIsTemplateDeterministic(t *testing.T) {
	r := New(DefaultCatalogue(), nil, 200)

	for i := 0; i < 5; i++ {
		decision := r.Route(utt("hola", "es"))
		require.Equal(t, pipeline.DecisionTemplate, decision.Kind)
		assert.Equal(t, "greetings", decision.TemplateCategory)
		assert.NotEmpty(t, decision.TemplateReply)
	}
}

func TestRoute_RefusalFuture(t *testing.T) {
	r := New(DefaultCatalogue(), nil, 200)
	decision := r.Route(utt("¿quién ganará las elecciones de 2030?", "es"))
	require.Equal(t, pipeline.DecisionRefuse, decision.Kind)
	assert.Equal(t, pipeline.RefuseFutureEvent, decision.RefuseReason)
}

func TestRoute_RefusalPrivate(t *testing.T) {
	r := New(DefaultCatalogue(), nil, 200)
	decision := r.Route(utt("cuál es mi contraseña", "es"))
	require.Equal(t, pipeline.DecisionRefuse, decision.Kind)
	assert.Equal(t, pipeline.RefusePrivateInfo, decision.RefuseReason)
}

func TestRoute_ClosedFactualGoesToModel(t *testing.T) {
	r := New(DefaultCatalogue(), nil, 200)
	decision := r.Route(utt("¿Cuál es la capital de Francia?", "es"))
	require.Equal(t, pipeline.DecisionModel, decision.Kind)
}

func TestRoute_WebQueryOverridesTier(t *testing.T) {
	r := New(DefaultCatalogue(), nil, 200)
	decision := r.Route(utt("busca las últimas noticias de hoy", "es"))
	require.Equal(t, pipeline.DecisionExternal, decision.Kind)
	assert.Equal(t, pipeline.ExternalWebSearch, decision.ExternalKind)
}

func TestRoute_DegradedModeRefusesWebSearch(t *testing.T) {
	r := New(DefaultCatalogue(), nil, 200)
	r.SetDegraded(true)
	decision := r.Route(utt("busca las últimas noticias de hoy", "es"))
	assert.Equal(t, pipeline.DecisionRefuse, decision.Kind)
}

func TestRoute_ComplexPromptSelectsReasoningOn(t *testing.T) {
	r := New(DefaultCatalogue(), nil, 200)
	decision := r.Route(utt("resuelve esta ecuación paso a paso", "es"))
	require.Equal(t, pipeline.DecisionModel, decision.Kind)
	assert.Equal(t, pipeline.ReasoningOn, decision.Reasoning)
}

func TestRoute_LongPromptDefaultsReasoningOn(t *testing.T) {
	r := New(DefaultCatalogue(), nil, 50)
	long := "Cuéntame una historia muy larga sobre un viaje que dure al menos cincuenta caracteres de longitud total."
	decision := r.Route(utt(long, "es"))
	require.Equal(t, pipeline.DecisionModel, decision.Kind)
	assert.Equal(t, pipeline.ReasoningOn, decision.Reasoning)
}

func TestRoute_NeverConsultsModelOnRefusal(t *testing.T) {
	r := New(DefaultCatalogue(), nil, 200)
	decision := r.Route(utt("cuál es mi contraseña", "es"))
	assert.NotEqual(t, pipeline.DecisionModel, decision.Kind)
	assert.NotEqual(t, pipeline.DecisionExternal, decision.Kind)
}

func TestRecordFeedback_BiasAppliedAfterTenNegatives(t *testing.T) {
	r := New(DefaultCatalogue(), nil, 200)
	for i := 0; i < 9; i++ {
		r.RecordFeedback(pipeline.TierFast, true)
	}
	assert.Equal(t, 0.0, r.biasedConfidence(0.5)-0.5)

	r.RecordFeedback(pipeline.TierFast, true)
	biased := r.biasedConfidence(0.5)
	assert.Less(t, biased, 0.5)
}

func TestStats_TracksRouteCounts(t *testing.T) {
	r := New(DefaultCatalogue(), nil, 200)
	r.Route(utt("hola", "es"))
	r.Route(utt("cuál es mi contraseña", "es"))
	stats := r.Stats()
	assert.Equal(t, int64(1), stats.TemplateHits)
	assert.Equal(t, int64(1), stats.Refusals)
}

func TestTemplateEngine_UnknownLanguagePassesThrough(t *testing.T) {
	engine := NewTemplateEngine(DefaultCatalogue())
	_, _, ok := engine.Match("fr", "hola")
	assert.False(t, ok)
}

func TestTemplateEngine_NormalizationIgnoresPunctuationAndCase(t *testing.T) {
	engine := NewTemplateEngine(DefaultCatalogue())
	category, _, ok := engine.Match("es", "¡¡¡HOLA!!!")
	require.True(t, ok)
	assert.Equal(t, "greetings", category)
}
