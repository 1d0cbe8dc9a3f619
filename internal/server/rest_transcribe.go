package server

import (
	"net/http"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// handleTranscribe runs a one-shot transcription over an uploaded clip
// using the server's own credentials.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.asr == nil {
		writeError(w, http.StatusServiceUnavailable, "no transcription backend configured")
		return
	}
	clip, err := s.decodeClip(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	s.transcribeClip(w, r, clip)
}

// handleTranscribeRaw transcribes float samples posted directly as JSON.
func (s *Server) handleTranscribeRaw(w http.ResponseWriter, r *http.Request) {
	if s.asr == nil {
		writeError(w, http.StatusServiceUnavailable, "no transcription backend configured")
		return
	}
	if s.cfg.Limits.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Limits.MaxBodyBytes)
	}
	var body struct {
		Samples    []float32 `json:"audio_data"`
		SampleRate int       `json:"sample_rate"`
		Prompt     string    `json:"prompt"`
		Language   string    `json:"language"`
		EnableLLM  bool      `json:"enable_llm"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if len(body.Samples) == 0 {
		writeError(w, http.StatusBadRequest, "audio_data must not be empty")
		return
	}
	if body.SampleRate <= 0 {
		body.SampleRate = s.cfg.Audio.SampleRate
	}

	samples := audio.ResampleFloat(body.Samples, body.SampleRate, s.cfg.Audio.SampleRate)
	if err := s.checkClipLength(len(samples)); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	s.transcribeClip(w, r, clipRequest{
		Samples:  samples,
		Format:   "raw",
		Prompt:   body.Prompt,
		Language: body.Language,
		LLM:      body.EnableLLM,
	})
}

// transcribeClip ships decoded samples to the backend and optionally runs
// the corrector, writing the combined response.
func (s *Server) transcribeClip(w http.ResponseWriter, r *http.Request, clip clipRequest) {
	warnings := clipWarnings(clip.Samples, s.cfg.Audio.SampleRate)

	started := time.Now()
	res, err := s.asr.Transcribe(r.Context(), clip.Samples, clip.Prompt)
	s.metrics.ASRDuration.Record(r.Context(), time.Since(started).Seconds())
	if err != nil {
		s.metrics.RecordProviderRequest(r.Context(), s.asr.Name(), "transcribe", "error")
		writeError(w, http.StatusBadGateway, "transcription failed: %v", err)
		return
	}
	s.metrics.RecordProviderRequest(r.Context(), s.asr.Name(), "transcribe", "ok")

	resp := map[string]any{
		"text":               res.Text,
		"duration_s":         float64(len(clip.Samples)) / float64(s.cfg.Audio.SampleRate),
		"processing_time_ms": time.Since(started).Milliseconds(),
	}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}

	if clip.LLM && s.corr != nil && res.Text != "" {
		corrected, cerr := s.corr.Correct(r.Context(), res.Text)
		if cerr != nil {
			s.log.Warn("one-shot correction failed", "error", cerr)
		} else {
			resp["corrected_text"] = corrected.Text
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// clipWarnings flags audio likely to transcribe poorly.
func clipWarnings(samples []float32, rate int) []string {
	var warnings []string
	peak := audio.Peak(samples)
	switch {
	case peak < 0.01:
		warnings = append(warnings, "audio is near-silent, transcription may be empty")
	case peak >= 0.99:
		warnings = append(warnings, "audio is clipping, transcription quality may suffer")
	}
	if float64(len(samples))/float64(rate) < 0.3 {
		warnings = append(warnings, "clip is very short")
	}
	return warnings
}

// handleModels lists the configured providers and models.
func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"asr": map[string]any{
			"configured": s.asr != nil,
			"api_url":    s.cfg.ASR.APIURL,
			"model":      s.cfg.ASR.Model,
		},
		"corrector": map[string]any{
			"configured": s.corr != nil,
			"enabled":    s.cfg.Corrector.Enabled,
			"provider":   s.cfg.Corrector.Provider,
			"model":      s.cfg.Corrector.Model,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTestConnection runs the backend connectivity self-test.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if s.asr == nil {
		writeError(w, http.StatusServiceUnavailable, "no transcription backend configured")
		return
	}
	started := time.Now()
	if err := s.asr.SelfTest(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success":    false,
			"provider":   s.asr.Name(),
			"error":      err.Error(),
			"elapsed_ms": time.Since(started).Milliseconds(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"provider":   s.asr.Name(),
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
}
