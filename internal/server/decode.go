package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// clipRequest is a decoded one-shot audio upload, normalized to mono float
// samples at the server's pipeline sample rate.
type clipRequest struct {
	Samples  []float32
	Format   string
	Prompt   string
	Language string
	LLM      bool
}

// decodeClip reads the audio payload of a one-shot request. Multipart
// uploads carry the clip in a "file" (or "audio") part; JSON bodies carry
// it as {"audio_base64", "format", "sample_rate"}. Either way the clip is
// decoded and resampled to the pipeline rate.
func (s *Server) decodeClip(r *http.Request) (clipRequest, error) {
	if s.cfg.Limits.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(nil, r.Body, s.cfg.Limits.MaxBodyBytes)
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		req  clipRequest
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(ct, "multipart/"):
		req, data, err = decodeMultipartClip(r)
	default:
		req, data, err = decodeJSONClip(r)
	}
	if err != nil {
		return clipRequest{}, err
	}
	if len(data) == 0 {
		return clipRequest{}, fmt.Errorf("request carries no audio data")
	}

	samples, err := audio.Decode(r.Context(), data, req.Format, s.cfg.Audio.SampleRate)
	if err != nil {
		return clipRequest{}, fmt.Errorf("decode %s audio: %w", req.Format, err)
	}
	if err := s.checkClipLength(len(samples)); err != nil {
		return clipRequest{}, err
	}
	req.Samples = samples
	return req, nil
}

func decodeMultipartClip(r *http.Request) (clipRequest, []byte, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return clipRequest{}, nil, fmt.Errorf("parse multipart form: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("audio")
	}
	if err != nil {
		return clipRequest{}, nil, fmt.Errorf("multipart form needs a file or audio part")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return clipRequest{}, nil, fmt.Errorf("read upload: %w", err)
	}

	format := r.FormValue("format")
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	}
	if format == "" {
		format = "wav"
	}

	req := clipRequest{
		Format:   strings.ToLower(format),
		Prompt:   r.FormValue("prompt"),
		Language: r.FormValue("language"),
	}
	if v := r.FormValue("enable_llm"); v != "" {
		req.LLM, _ = strconv.ParseBool(v)
	}
	return req, data, nil
}

func decodeJSONClip(r *http.Request) (clipRequest, []byte, error) {
	var body struct {
		AudioBase64 string `json:"audio_base64"`
		Format      string `json:"format"`
		SampleRate  int    `json:"sample_rate"`
		Prompt      string `json:"prompt"`
		Language    string `json:"language"`
		EnableLLM   bool   `json:"enable_llm"`
	}
	if err := readJSON(r, &body); err != nil {
		return clipRequest{}, nil, err
	}
	if body.AudioBase64 == "" {
		return clipRequest{}, nil, fmt.Errorf("audio_base64 is required")
	}
	data, err := base64.StdEncoding.DecodeString(body.AudioBase64)
	if err != nil {
		return clipRequest{}, nil, fmt.Errorf("decode audio_base64: %w", err)
	}
	if body.Format == "" {
		body.Format = "wav"
	}
	return clipRequest{
		Format:   strings.ToLower(body.Format),
		Prompt:   body.Prompt,
		Language: body.Language,
		LLM:      body.EnableLLM,
	}, data, nil
}

// checkClipLength rejects clips beyond the configured duration cap.
func (s *Server) checkClipLength(samples int) error {
	limit := s.cfg.Limits.MaxClipSeconds
	if limit <= 0 {
		return nil
	}
	dur := float64(samples) / float64(s.cfg.Audio.SampleRate)
	if dur > limit {
		return fmt.Errorf("clip is %.1fs long, the limit is %.0fs", dur, limit)
	}
	return nil
}

// readJSON decodes a JSON request body into v.
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
