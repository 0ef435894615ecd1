package splitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Spanish(t *testing.T) {
	s := New("es", 15)

	sentences := s.Split("Hola. ¿Cómo estás? ¡Estoy muy bien!")
	require.Len(t, sentences, 3)

	assert.Equal(t, 0, sentences[0].Ordinal)
	assert.Equal(t, "Hola.", sentences[0].Text)
	assert.False(t, sentences[0].IsQuestion)

	assert.Equal(t, "¿Cómo estás?", sentences[1].Text)
	assert.True(t, sentences[1].IsQuestion)

	assert.Equal(t, "¡Estoy muy bien!", sentences[2].Text)
	assert.True(t, sentences[2].IsExclamation)
}

func TestSplit_AbbreviationNotSplit(t *testing.T) {
	s := New("es", 15)

	sentences := s.Split("El Dr. García dijo que todo está bien. Nos vemos a las 3 p.m.")
	require.Len(t, sentences, 2)
	assert.Contains(t, sentences[0].Text, "Dr. García")
	assert.Contains(t, sentences[1].Text, "3 p.m.")
}

func TestSplit_English(t *testing.T) {
	s := New("en", 15)

	sentences := s.Split("Mr. Smith said hello. How are you?")
	require.Len(t, sentences, 2)
	assert.Contains(t, sentences[0].Text, "Mr. Smith")
	assert.True(t, sentences[1].IsQuestion)
}

func TestSplit_EmptyInput(t *testing.T) {
	s := New("es", 15)
	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   "))
}

func TestSplit_MinimumDuration(t *testing.T) {
	s := New("es", 1000)
	sentences := s.Split("Hi.")
	require.Len(t, sentences, 1)
	assert.GreaterOrEqual(t, sentences[0].EstimatedDurationSeconds, 0.5)
}

func TestSplit_QuestionExclamationTailPause(t *testing.T) {
	s := New("en", 15)
	sentences := s.Split("Is this fine? Yes it is.")
	require.Len(t, sentences, 2)
	// questions carry a longer tail pause than plain statements
	assert.Greater(t, sentences[0].EstimatedDurationSeconds-float64(len("Is this fine"))/15.0, 0.25)
}

func TestSplit_UnknownLanguageDefaultsToSpanish(t *testing.T) {
	s := New("fr", 15)
	sentences := s.Split("El Dr. López vino. Listo.")
	require.Len(t, sentences, 2)
	assert.Contains(t, sentences[0].Text, "Dr. López")
}

func TestSplit_OrdinalsAreSequential(t *testing.T) {
	s := New("en", 15)
	sentences := s.Split("One. Two. Three.")
	require.Len(t, sentences, 3)
	for i, sent := range sentences {
		assert.Equal(t, i, sent.Ordinal)
	}
}
