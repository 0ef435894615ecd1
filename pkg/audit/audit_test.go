package audit

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu    sync.Mutex
	lines []string
	fail  bool
}

func (m *memSink) Append(line, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink unavailable")
	}
	m.lines = append(m.lines, line)
	return nil
}

func TestAppendVerify_WebQuerySHA256RoundTrip(t *testing.T) {
	sink := &memSink{}
	log := New(KindWebQuery, nil, sink, 0, nil)

	require.NoError(t, log.Append("query one"))
	require.NoError(t, log.Append("query two"))

	_, ok := log.Verify()
	assert.True(t, ok)
	assert.False(t, log.SafeMode())
}

func TestAppendVerify_VoiceInteractionHMACRoundTrip(t *testing.T) {
	sink := &memSink{}
	log := New(KindVoiceInteraction, []byte("secret-key"), sink, 0, nil)

	require.NoError(t, log.Append("hola"))
	_, ok := log.Verify()
	assert.True(t, ok)
}

func TestVerify_TamperedLineFailsAndActivatesSafeMode(t *testing.T) {
	sink := &memSink{}
	log := New(KindWebQuery, nil, sink, 0, nil)
	require.NoError(t, log.Append("original line"))

	log.mu.Lock()
	log.entries[0].line = "tampered line"
	log.mu.Unlock()

	idx, ok := log.Verify()
	assert.False(t, ok)
	assert.Equal(t, 0, idx)
	assert.True(t, log.SafeMode())
}

func TestAppend_ConsecutiveFailuresTripSafeMode(t *testing.T) {
	sink := &memSink{fail: true}
	var reason string
	log := New(KindWebQuery, nil, sink, 3, func(r string) { reason = r })

	for i := 0; i < 2; i++ {
		_ = log.Append("x")
		assert.False(t, log.SafeMode())
	}
	_ = log.Append("x")
	assert.True(t, log.SafeMode())
	assert.NotEmpty(t, reason)
}

func TestAppend_SuccessResetsConsecutiveErrorCounter(t *testing.T) {
	sink := &memSink{fail: true}
	log := New(KindWebQuery, nil, sink, 3, nil)
	_ = log.Append("x")
	_ = log.Append("x")

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	require.NoError(t, log.Append("x"))

	sink.mu.Lock()
	sink.fail = true
	sink.mu.Unlock()
	_ = log.Append("x")
	_ = log.Append("x")
	assert.False(t, log.SafeMode())
}

func TestClearSafeMode_ExitsDegradedMode(t *testing.T) {
	log := New(KindWebQuery, nil, &memSink{}, 0, nil)
	log.ActivateSafeMode("manual")
	assert.True(t, log.SafeMode())
	log.ClearSafeMode()
	assert.False(t, log.SafeMode())
}
