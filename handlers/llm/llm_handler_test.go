package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicerelay/core"
	"voicerelay/utils/audio"
	"voicerelay/utils/retry"
)

type fakeService struct {
	name    string
	mu      sync.Mutex
	calls   int
	results []fakeResult
}

type fakeResult struct {
	res   core.Synthesis
	err   error
	delay time.Duration
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Synthesize(ctx context.Context, messages []core.Message) (core.Synthesis, error) {
	f.mu.Lock()
	r := f.results[min(f.calls, len(f.results)-1)]
	f.calls++
	f.mu.Unlock()

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return core.Synthesis{}, ctx.Err()
		}
	}
	return r.res, r.err
}

func (f *fakeService) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okSynthesis(t *testing.T, text string) core.Synthesis {
	wav, err := audio.PCMBytesToWavBytes([]byte{1, 0, 2, 0}, 1, 24000)
	require.NoError(t, err)
	return core.Synthesis{Text: text, Audio: wav, Format: core.AudioFormatWAV}
}

func testConfig() LLMHandlerConfig {
	return LLMHandlerConfig{
		Timeout: core.Duration(time.Second),
		Retry: retry.Config{
			MaxRetries:      2,
			InitialInterval: core.Duration(time.Millisecond),
			MaxInterval:     core.Duration(2 * time.Millisecond),
		},
	}
}

var request = []core.Message{{Role: core.RoleSystem, Content: "persona"}, {Role: core.RoleUser, Content: "hi"}}

func TestLLMHandler_Synthesizes(t *testing.T) {
	svc := &fakeService{name: "fake", results: []fakeResult{{res: okSynthesis(t, " Hello agent ")}}}
	h := NewLLMHandler(svc, nil, testConfig(), core.NewNopLogger())

	res, err := h.Synthesize(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, "Hello agent", res.Text)
	assert.NotEmpty(t, res.Audio)
}

func TestLLMHandler_EmptyTextIsNotAnError(t *testing.T) {
	svc := &fakeService{name: "fake", results: []fakeResult{{res: okSynthesis(t, "")}}}
	h := NewLLMHandler(svc, nil, testConfig(), core.NewNopLogger())

	res, err := h.Synthesize(context.Background(), request)
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.NotEmpty(t, res.Audio)
}

func TestLLMHandler_RejectsEmptyRequest(t *testing.T) {
	svc := &fakeService{name: "fake", results: []fakeResult{{res: okSynthesis(t, "x")}}}
	h := NewLLMHandler(svc, nil, testConfig(), core.NewNopLogger())

	_, err := h.Synthesize(context.Background(), nil)
	var se *core.SynthesisError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, core.CodeInvalid, se.Code)
	assert.Equal(t, 0, svc.Calls())
}

func TestLLMHandler_BadAudio(t *testing.T) {
	svc := &fakeService{name: "fake", results: []fakeResult{{res: core.Synthesis{Text: "hi", Audio: []byte("not a wave"), Format: core.AudioFormatWAV}}}}
	h := NewLLMHandler(svc, nil, testConfig(), core.NewNopLogger())

	_, err := h.Synthesize(context.Background(), request)
	var se *core.SynthesisError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, core.CodeBadAudio, se.Code)
	assert.Equal(t, 1, svc.Calls())
}

func TestLLMHandler_TimeoutAfterRetries(t *testing.T) {
	svc := &fakeService{name: "fake", results: []fakeResult{{res: okSynthesis(t, "late"), delay: time.Second}}}
	cfg := testConfig()
	cfg.Timeout = core.Duration(10 * time.Millisecond)
	h := NewLLMHandler(svc, nil, cfg, core.NewNopLogger())

	_, err := h.Synthesize(context.Background(), request)
	var se *core.SynthesisError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, core.CodeTimeout, se.Code)
	assert.Equal(t, 3, svc.Calls())
}

func TestLLMHandler_RetriesThenSucceeds(t *testing.T) {
	transient := core.NewSynthesisError("fake", core.CodeRateLimited, "status 429", nil, true)
	svc := &fakeService{name: "fake", results: []fakeResult{{err: transient}, {err: transient}, {res: okSynthesis(t, "ok")}}}
	h := NewLLMHandler(svc, nil, testConfig(), core.NewNopLogger())

	res, err := h.Synthesize(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, 3, svc.Calls())
}

func TestLLMHandler_CallerCancelIsNotRetried(t *testing.T) {
	svc := &fakeService{name: "fake", results: []fakeResult{{res: okSynthesis(t, "late"), delay: time.Second}}}
	h := NewLLMHandler(svc, nil, testConfig(), core.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Synthesize(ctx, request)
	var se *core.SynthesisError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Retryable)
	assert.Equal(t, 1, svc.Calls())
}

func TestLLMHandler_BackupService(t *testing.T) {
	transient := core.NewSynthesisError("primary", core.CodeUpstream, "status 503", nil, true)
	primary := &fakeService{name: "primary", results: []fakeResult{{err: transient}}}
	backup := &fakeService{name: "backup", results: []fakeResult{{res: okSynthesis(t, "from backup")}}}
	h := NewLLMHandler(primary, []SynthesisService{backup}, testConfig(), core.NewNopLogger())

	res, err := h.Synthesize(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, "from backup", res.Text)
	assert.Equal(t, 3, primary.Calls())
}
