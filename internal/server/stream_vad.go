package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxgate/internal/wire"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/vad"
)

// vadStreamHop is the detection granularity of the VAD-only streams: 1024
// sample analysis windows advancing by half a window.
const vadStreamHop = 512

// vadStreamMsg is an inbound frame on the JSON VAD stream.
type vadStreamMsg struct {
	Type       string    `json:"type"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Channels   int       `json:"channels,omitempty"`
	Data       []float32 `json:"data,omitempty"`
}

// vadStreamResult is the per-push reply on the JSON VAD stream.
type vadStreamResult struct {
	Type             string  `json:"type"`
	IsSpeaking       bool    `json:"is_speaking"`
	Probability      float64 `json:"probability"`
	CurrentState     string  `json:"current_state"`
	StateChanged     bool    `json:"state_changed"`
	RMS              float64 `json:"rms"`
	ProcessingTimeMS float64 `json:"processing_time_ms"`
	FrameCount       int64   `json:"frame_count"`
}

// handleStreamVAD serves the JSON VAD-only WebSocket: a config message,
// then audio messages answered with detection snapshots, then an end
// message that closes the stream.
func (s *Server) handleStreamVAD(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Debug("websocket accept failed", "error", err)
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(streamReadLimit)

	ctx := r.Context()
	var (
		eng      *vad.Engine
		channels = 1
		samples  int64
	)
	defer func() {
		if eng != nil {
			eng.Close()
		}
	}()

	for {
		var msg vadStreamMsg
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			return
		}

		switch msg.Type {
		case "config":
			rate := msg.SampleRate
			if rate <= 0 {
				rate = wire.DefaultSampleRate
			}
			if msg.Channels > 0 {
				channels = msg.Channels
			}
			if eng != nil {
				eng.Close()
			}
			eng, err = s.newEngine(rate, vad.WithHopSize(vadStreamHop))
			if err != nil {
				s.closeWithError(ctx, c, "invalid config: "+err.Error())
				return
			}

		case "audio":
			if eng == nil {
				s.closeWithError(ctx, c, "config message required before audio")
				return
			}
			if len(msg.Data) == 0 {
				continue
			}
			mono := audio.DownmixFloat(msg.Data, channels)
			started := time.Now()
			res, err := eng.Process(mono)
			if err != nil {
				s.closeWithError(ctx, c, "vad processing failed: "+err.Error())
				return
			}
			samples += int64(len(mono))
			reply := vadStreamResult{
				Type:             "vad",
				IsSpeaking:       res.IsSpeaking,
				Probability:      res.Probability,
				CurrentState:     vadStateName(res.IsSpeaking),
				StateChanged:     res.StateChanged,
				RMS:              res.RMS,
				ProcessingTimeMS: float64(time.Since(started).Microseconds()) / 1000,
				FrameCount:       samples / vadStreamHop,
			}
			if err := wsjson.Write(ctx, c, reply); err != nil {
				return
			}

		case "end":
			_ = wsjson.Write(ctx, c, map[string]any{
				"type":        "end",
				"frame_count": samples / vadStreamHop,
			})
			c.Close(websocket.StatusNormalClosure, "stream ended")
			return

		default:
			s.closeWithError(ctx, c, "unknown message type "+msg.Type)
			return
		}
	}
}

// handleStreamVADBinary serves the binary VAD-only WebSocket: one text
// config frame, a ready acknowledgement, then raw little-endian float32
// frames each answered with a JSON detection result. An empty binary frame
// ends the stream.
func (s *Server) handleStreamVADBinary(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Debug("websocket accept failed", "error", err)
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(streamReadLimit)

	ctx := r.Context()

	var cfg struct {
		SampleRate int `json:"sample_rate"`
		WindowSize int `json:"window_size"`
	}
	if err := wsjson.Read(ctx, c, &cfg); err != nil {
		return
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = wire.DefaultSampleRate
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = vadStreamHop
	}

	eng, err := s.newEngine(cfg.SampleRate, vad.WithHopSize(cfg.WindowSize))
	if err != nil {
		s.closeWithError(ctx, c, "invalid config: "+err.Error())
		return
	}
	defer eng.Close()

	if err := wsjson.Write(ctx, c, map[string]any{
		"type":        "ready",
		"sample_rate": cfg.SampleRate,
		"window_size": cfg.WindowSize,
	}); err != nil {
		return
	}

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			s.closeWithError(ctx, c, "expected binary audio frames")
			return
		}
		if len(data) == 0 {
			c.Close(websocket.StatusNormalClosure, "stream ended")
			return
		}

		samples, err := wire.DecodeBinaryAudio(data)
		if err != nil {
			s.closeWithError(ctx, c, err.Error())
			return
		}
		started := time.Now()
		res, err := eng.Process(samples)
		if err != nil {
			s.closeWithError(ctx, c, "vad processing failed: "+err.Error())
			return
		}
		reply := map[string]any{
			"is_speaking":        res.IsSpeaking,
			"probability":        res.Probability,
			"rms":                res.RMS,
			"processing_time_ms": float64(time.Since(started).Microseconds()) / 1000,
			"samples":            len(samples),
		}
		if err := wsjson.Write(ctx, c, reply); err != nil {
			return
		}
	}
}

// handleStreamStatus lists the streaming endpoints and the client settings
// they expect.
func (s *Server) handleStreamStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoints": map[string]any{
			"/v1/stream":            "full transcription pipeline (JSON envelopes + binary float32 audio)",
			"/v1/stream/vad":        "VAD-only, JSON frames",
			"/v1/stream/vad-binary": "VAD-only, binary little-endian float32 frames",
		},
		"recommended_config": map[string]any{
			"sample_rate":    s.cfg.Audio.SampleRate,
			"channels":       1,
			"format":         "float32",
			"chunk_duration": s.cfg.Audio.MaxSegmentDuration,
		},
	})
}

// closeWithError reports a protocol failure on a VAD stream and closes it.
func (s *Server) closeWithError(ctx context.Context, c *websocket.Conn, msg string) {
	b, err := json.Marshal(map[string]any{"type": "error", "error": msg})
	if err == nil {
		wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
		_ = c.Write(wctx, websocket.MessageText, b)
		cancel()
	}
	c.Close(websocket.StatusPolicyViolation, "protocol error")
}

// vadStateName maps a speaking flag to its wire name.
func vadStateName(speaking bool) string {
	if speaking {
		return wire.VADStateSpeech
	}
	return wire.VADStateSilence
}
