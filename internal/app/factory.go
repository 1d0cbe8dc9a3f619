package app

import (
	"fmt"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/llmcorrect"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/internal/wire"
	"github.com/MrWong99/voxgate/pkg/provider/asr"
	"github.com/MrWong99/voxgate/pkg/provider/asr/whisper"
	"github.com/MrWong99/voxgate/pkg/provider/llm"
	"github.com/MrWong99/voxgate/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/voxgate/pkg/provider/llm/openai"
	"github.com/MrWong99/voxgate/pkg/vad"
)

var _ session.Factory = (*providerFactory)(nil)

// providerFactory builds per-session providers by combining the client's
// config message with the server-side defaults. The client's API key and
// language win; endpoint, model and timeouts stay under server control.
type providerFactory struct {
	cfg *config.Config
}

func newProviderFactory(cfg *config.Config) *providerFactory {
	return &providerFactory{cfg: cfg}
}

// ASR builds the transcription client for one session.
func (f *providerFactory) ASR(c wire.ConfigData) (asr.Provider, error) {
	key := c.APIKey
	if key == "" {
		key = f.cfg.ASR.APIKey
	}
	lang := c.Language
	if lang == "" {
		lang = f.cfg.ASR.Language
	}

	opts := []whisper.Option{
		whisper.WithSampleRate(f.cfg.Audio.SampleRate),
	}
	if f.cfg.ASR.Model != "" {
		opts = append(opts, whisper.WithModel(f.cfg.ASR.Model))
	}
	if lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	if f.cfg.ASR.TimeoutS > 0 {
		opts = append(opts, whisper.WithTimeout(time.Duration(f.cfg.ASR.TimeoutS*float64(time.Second))))
	}
	p, err := whisper.New(f.cfg.ASR.APIURL, key, opts...)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Corrector builds the transcript corrector, or nil when correction is
// disabled server-side.
func (f *providerFactory) Corrector(wire.ConfigData) (session.Corrector, error) {
	if !f.cfg.Corrector.Enabled {
		return nil, nil
	}
	provider, err := f.buildLLM()
	if err != nil {
		return nil, fmt.Errorf("build %s corrector backend: %w", f.cfg.Corrector.Provider, err)
	}

	var opts []llmcorrect.Option
	if f.cfg.Corrector.Temperature > 0 {
		opts = append(opts, llmcorrect.WithTemperature(f.cfg.Corrector.Temperature))
	}
	if f.cfg.Corrector.MaxTokens > 0 {
		opts = append(opts, llmcorrect.WithMaxTokens(f.cfg.Corrector.MaxTokens))
	}
	corr := llmcorrect.New(provider, opts...)

	// While the LLM is down, sessions ship raw transcripts instead of
	// waiting out a timeout per segment.
	return resilience.GuardCorrector(corr, resilience.BreakerConfig{
		Name: f.cfg.Corrector.Provider,
	}), nil
}

// buildLLM picks the chat-completion backend for the corrector. The openai
// provider speaks to any OpenAI-compatible endpoint; everything else goes
// through the any-llm multiplexer.
func (f *providerFactory) buildLLM() (llm.Provider, error) {
	cc := f.cfg.Corrector
	if cc.Provider == "openai" {
		p, err := llmopenai.New(cc.APIKey, cc.Model)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	var opts []anyllmlib.Option
	if cc.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cc.APIKey))
	}
	p, err := anyllm.New(cc.Provider, cc.Model, opts...)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Classifier builds a fresh Silero classifier when a model path is
// configured; sessions fall back to the energy gate otherwise.
func (f *providerFactory) Classifier() (vad.Classifier, error) {
	if f.cfg.VAD.ModelPath == "" {
		return nil, nil
	}
	s, err := vad.NewSilero(f.cfg.VAD.ModelPath, f.cfg.Audio.SampleRate,
		vad.DefaultHopSize, f.cfg.VAD.Threshold)
	if err != nil {
		return nil, err
	}
	return s, nil
}
