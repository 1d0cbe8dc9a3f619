package server

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/vad"
)

// quickCheckSeconds caps how much audio the quick speech check inspects.
const quickCheckSeconds = 5

// detectResult is the response shape shared by the one-shot VAD endpoints.
type detectResult struct {
	IsSpeaking       bool           `json:"is_speaking"`
	State            string         `json:"state"`
	StateChanged     bool           `json:"state_changed"`
	Probability      float64        `json:"probability"`
	RMS              float64        `json:"rms"`
	MaxAmplitude     float64        `json:"max_amplitude"`
	SilenceTimeout   bool           `json:"silence_timeout"`
	ProcessingTimeMS float64        `json:"processing_time_ms"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// analyzer returns the shared one-shot detector, building it on first use.
// Callers hold anMu for the whole operation; engines are not concurrent-safe.
func (s *Server) analyzer() (*vad.Engine, error) {
	if s.anEng != nil {
		return s.anEng, nil
	}
	eng, err := s.newEngine(s.cfg.Audio.SampleRate)
	if err != nil {
		return nil, err
	}
	s.anEng = eng
	return eng, nil
}

// detect runs one clip through the shared analyzer. Caller holds anMu.
func (s *Server) detect(samples []float32) (detectResult, error) {
	eng, err := s.analyzer()
	if err != nil {
		return detectResult{}, err
	}
	started := time.Now()
	res, err := eng.Process(samples)
	if err != nil {
		return detectResult{}, err
	}
	s.anClips++
	return detectResult{
		IsSpeaking:       res.IsSpeaking,
		State:            vadStateName(res.IsSpeaking),
		StateChanged:     res.StateChanged,
		Probability:      res.Probability,
		RMS:              res.RMS,
		MaxAmplitude:     res.Peak,
		SilenceTimeout:   res.SilenceTimeout,
		ProcessingTimeMS: float64(time.Since(started).Microseconds()) / 1000,
		Metadata: map[string]any{
			"samples":     len(samples),
			"sample_rate": s.cfg.Audio.SampleRate,
			"duration_s":  float64(len(samples)) / float64(s.cfg.Audio.SampleRate),
		},
	}, nil
}

// handleVADDetect analyzes a single clip against the shared detector.
func (s *Server) handleVADDetect(w http.ResponseWriter, r *http.Request) {
	clip, err := s.decodeClip(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if len(clip.Samples) < vad.DefaultHopSize {
		writeError(w, http.StatusBadRequest,
			"clip too short: %d samples, need at least %d", len(clip.Samples), vad.DefaultHopSize)
		return
	}

	s.anMu.Lock()
	res, err := s.detect(clip.Samples)
	s.anMu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "vad processing failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleVADSegments analyzes a batch of clips, optionally resetting the
// detector between them, and reports per-clip results plus a summary.
func (s *Server) handleVADSegments(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Limits.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Limits.MaxBodyBytes)
	}
	var body struct {
		Clips []struct {
			AudioBase64 string `json:"audio_base64"`
			Format      string `json:"format"`
		} `json:"clips"`
		ResetBetween bool `json:"reset_between"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if len(body.Clips) == 0 {
		writeError(w, http.StatusBadRequest, "clips must not be empty")
		return
	}

	type clipResult struct {
		Index int    `json:"index"`
		Error string `json:"error,omitempty"`
		*detectResult
	}

	results := make([]clipResult, 0, len(body.Clips))
	var speech, silence, failed int

	s.anMu.Lock()
	for i, c := range body.Clips {
		if body.ResetBetween && i > 0 {
			if eng, err := s.analyzer(); err == nil {
				eng.Reset()
			}
		}
		data, err := base64.StdEncoding.DecodeString(c.AudioBase64)
		if err == nil {
			format := c.Format
			if format == "" {
				format = "wav"
			}
			var samples []float32
			samples, err = audio.Decode(r.Context(), data, format, s.cfg.Audio.SampleRate)
			if err == nil {
				var res detectResult
				res, err = s.detect(samples)
				if err == nil {
					results = append(results, clipResult{Index: i, detectResult: &res})
					if res.IsSpeaking {
						speech++
					} else {
						silence++
					}
					continue
				}
			}
		}
		failed++
		results = append(results, clipResult{Index: i, Error: err.Error()})
	}
	s.anMu.Unlock()

	ratio := 0.0
	if analyzed := speech + silence; analyzed > 0 {
		ratio = float64(speech) / float64(analyzed)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"summary": map[string]any{
			"total":        len(body.Clips),
			"speech":       speech,
			"silence":      silence,
			"errors":       failed,
			"speech_ratio": ratio,
		},
	})
}

// handleVADAnalyze scans a longer clip for speech regions.
func (s *Server) handleVADAnalyze(w http.ResponseWriter, r *http.Request) {
	clip, err := s.decodeClip(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	eng, err := s.newEngine(s.cfg.Audio.SampleRate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "build detector: %v", err)
		return
	}
	defer eng.Close()

	started := time.Now()
	spans := eng.ScanSegments(clip.Samples)

	rate := float64(s.cfg.Audio.SampleRate)
	type speechSegment struct {
		Start    float64 `json:"start"`
		End      float64 `json:"end"`
		Duration float64 `json:"duration"`
	}
	segments := make([]speechSegment, 0, len(spans))
	var speechSeconds float64
	for _, sp := range spans {
		seg := speechSegment{
			Start:    float64(sp.Start) / rate,
			End:      float64(sp.End) / rate,
			Duration: float64(sp.End-sp.Start) / rate,
		}
		speechSeconds += seg.Duration
		segments = append(segments, seg)
	}

	total := float64(len(clip.Samples)) / rate
	ratio := 0.0
	if total > 0 {
		ratio = speechSeconds / total
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"speech_segments":    segments,
		"segment_count":      len(segments),
		"total_duration_s":   total,
		"speech_duration_s":  speechSeconds,
		"speech_ratio":       ratio,
		"rms":                audio.RMS(clip.Samples),
		"max_amplitude":      audio.Peak(clip.Samples),
		"processing_time_ms": float64(time.Since(started).Microseconds()) / 1000,
	})
}

// handleVADStatus reports the shared analyzer's state.
func (s *Server) handleVADStatus(w http.ResponseWriter, _ *http.Request) {
	s.anMu.Lock()
	defer s.anMu.Unlock()

	status := map[string]any{
		"initialized":     s.anEng != nil,
		"clips_processed": s.anClips,
		"threshold":       s.cfg.VAD.Threshold,
		"sample_rate":     s.cfg.Audio.SampleRate,
	}
	if s.anEng != nil {
		status["is_speaking"] = s.anEng.Speaking()
		status["probability"] = s.anEng.Probability()
	}
	writeJSON(w, http.StatusOK, status)
}

// handleVADReset clears the shared analyzer's detection state.
func (s *Server) handleVADReset(w http.ResponseWriter, _ *http.Request) {
	s.anMu.Lock()
	if s.anEng != nil {
		s.anEng.Reset()
	}
	s.anClips = 0
	s.anMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleVADQuick is a fast yes/no speech check over at most the first five
// seconds of the clip: an energy gate first, the classifier only when the
// gate passes.
func (s *Server) handleVADQuick(w http.ResponseWriter, r *http.Request) {
	clip, err := s.decodeClip(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	started := time.Now()
	samples := clip.Samples
	if limit := quickCheckSeconds * s.cfg.Audio.SampleRate; len(samples) > limit {
		samples = samples[:limit]
	}

	rms := audio.RMS(samples)
	isSpeech := false
	probability := rms
	if rms > 0.01 {
		eng, err := s.newEngine(s.cfg.Audio.SampleRate)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "build detector: %v", err)
			return
		}
		if res, perr := eng.Process(samples); perr == nil {
			isSpeech = res.IsSpeaking
			probability = res.Probability
		}
		eng.Close()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"is_speech":          isSpeech,
		"probability":        probability,
		"rms":                rms,
		"checked_seconds":    float64(len(samples)) / float64(s.cfg.Audio.SampleRate),
		"processing_time_ms": float64(time.Since(started).Microseconds()) / 1000,
	})
}
