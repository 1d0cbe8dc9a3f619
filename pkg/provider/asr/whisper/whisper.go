// Package whisper provides an [asr.Provider] for OpenAI-compatible
// transcription endpoints.
//
// It speaks the /v1/audio/transcriptions protocol: each segment is wrapped
// in a 16-bit mono WAV container and POSTed as multipart/form-data with a
// bearer token, asking for a verbose_json response. The same client covers
// OpenAI itself, Fireworks, Groq, and any self-hosted server that mimics the
// endpoint; Fireworks gets its provider-specific fields added automatically.
//
// Usage:
//
//	p, err := whisper.New("https://api.openai.com/v1/audio/transcriptions", key,
//	    whisper.WithModel("whisper-1"),
//	    whisper.WithLanguage("en"),
//	)
//	res, err := p.Transcribe(ctx, samples, prompt)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/asr"
)

const (
	defaultModel      = "whisper-1"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second

	// maxErrBody bounds how much of an error response is kept for
	// diagnostics.
	maxErrBody = 512
)

// Compile-time assertion that Provider implements asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier sent with each request (e.g.,
// "whisper-1", "whisper-v3"). Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code hint (e.g., "en", "zh"). When empty
// the backend auto-detects, which is the default.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSampleRate sets the sample rate of the audio passed to Transcribe.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithTimeout sets the hard deadline for a single transcription call.
// Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. The timeout configured on the
// provider still applies per call through the request context.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements asr.Provider against one OpenAI-compatible endpoint.
// It is stateless apart from its configuration and safe for concurrent use.
type Provider struct {
	apiURL     string
	apiKey     string
	model      string
	language   string
	sampleRate int
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Provider for the transcription endpoint at apiURL (e.g.,
// "https://api.openai.com/v1/audio/transcriptions"). apiURL must be
// non-empty. Functional options may be provided to override defaults.
func New(apiURL, apiKey string, opts ...Option) (*Provider, error) {
	if apiURL == "" {
		return nil, errors.New("whisper: apiURL must not be empty")
	}
	p := &Provider{
		apiURL:     apiURL,
		apiKey:     apiKey,
		model:      defaultModel,
		language:   "",
		sampleRate: defaultSampleRate,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name identifies the backend in logs and metrics.
func (p *Provider) Name() string { return "whisper" }

// Transcribe encodes the samples as WAV and POSTs them to the endpoint. The
// call fails with *asr.Error after the configured timeout; it is never
// retried here.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, prompt string) (asr.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, contentType, err := p.buildForm(samples, prompt)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, body)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return asr.Result{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return asr.Result{}, &asr.Error{Kind: asr.KindAuth, Status: resp.StatusCode, Body: readErrBody(resp.Body)}
	case resp.StatusCode != http.StatusOK:
		return asr.Result{}, &asr.Error{Kind: asr.KindHTTP, Status: resp.StatusCode, Body: readErrBody(resp.Body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return asr.Result{}, &asr.Error{Kind: asr.KindParse, Err: err}
	}

	text, err := extractText(data)
	if err != nil {
		return asr.Result{}, &asr.Error{Kind: asr.KindParse, Err: err}
	}
	return asr.Result{Text: text, Elapsed: time.Since(start)}, nil
}

// SelfTest transcribes one second of near-silence. A single sample is
// raised off zero because some backends reject perfectly silent audio.
func (p *Provider) SelfTest(ctx context.Context) error {
	clip := make([]float32, p.sampleRate)
	clip[len(clip)/2] = 0.001
	_, err := p.Transcribe(ctx, clip, "")
	return err
}

// buildForm assembles the multipart body: the WAV file plus the request
// fields the endpoint understands.
func (p *Provider) buildForm(samples []float32, prompt string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(audio.EncodeWAV(samples, p.sampleRate)); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"model":                   p.model,
		"response_format":         "verbose_json",
		"timestamp_granularities": "segment",
	}
	if prompt != "" {
		fields["prompt"] = prompt
	}
	if p.language != "" {
		fields["language"] = p.language
	}
	// Fireworks wants an explicit VAD model and a pinned temperature.
	if strings.Contains(strings.ToLower(p.apiURL), "fireworks") {
		fields["vad_model"] = "silero"
		fields["temperature"] = "0.0"
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

// ---- helpers ----------------------------------------------------------------

// classifyTransport maps a failed round trip onto the error taxonomy:
// deadline overruns become timeouts, everything else is a transport failure.
func classifyTransport(err error) *asr.Error {
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return &asr.Error{Kind: asr.KindTimeout, Err: err}
	}
	return &asr.Error{Kind: asr.KindHTTP, Err: err}
}

// extractText pulls the transcript out of a verbose_json response. When the
// top-level text is empty the segment texts are joined instead.
func extractText(data []byte) (string, error) {
	var out struct {
		Text     string `json:"text"`
		Segments []struct {
			Text string `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", err
	}

	text := out.Text
	if text == "" && len(out.Segments) > 0 {
		parts := make([]string, 0, len(out.Segments))
		for _, seg := range out.Segments {
			parts = append(parts, seg.Text)
		}
		text = strings.Join(parts, " ")
	}
	return strings.TrimSpace(text), nil
}

// readErrBody drains up to maxErrBody bytes of an error response for
// inclusion in the returned error.
func readErrBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
