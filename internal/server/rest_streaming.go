package server

import "net/http"

// handleStreamingStats aggregates the session-pool counters and the
// effective pipeline settings.
func (s *Server) handleStreamingStats(w http.ResponseWriter, _ *http.Request) {
	st := s.manager.Stats()

	avgMS := 0.0
	if st.TotalSegments > 0 {
		avgMS = float64(st.ASRTimeMS) / float64(st.TotalSegments)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_clients":         st.ActiveSessions,
		"total_sessions":         st.TotalSessions,
		"total_messages":         st.TotalMessages,
		"total_segments":         st.TotalSegments,
		"avg_processing_time_ms": avgMS,
		"uptime_seconds":         st.UptimeSeconds,
		"settings": map[string]any{
			"sample_rate":          s.cfg.Audio.SampleRate,
			"chunk_duration":       s.cfg.Audio.MaxSegmentDuration,
			"lookback_duration":    s.cfg.Audio.LookbackDuration,
			"vad_threshold":        s.cfg.VAD.Threshold,
			"vad_silence_duration": s.cfg.VAD.SilenceDuration,
			"max_sessions":         s.manager.MaxSessions(),
		},
	})
}

// handleStreamingClients lists the open sessions.
func (s *Server) handleStreamingClients(w http.ResponseWriter, _ *http.Request) {
	infos := s.manager.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"clients": infos,
		"count":   len(infos),
	})
}

// handleStreamingControl injects a control command into one session on
// behalf of an operator.
func (s *Server) handleStreamingControl(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Command string `json:"command"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if body.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	if _, ok := s.manager.Get(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"message": "no session " + id,
		})
		return
	}
	if err := s.manager.Control(id, body.Command); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	s.log.Info("operator control injected", "client_id", id, "command", body.Command)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "command " + body.Command + " delivered",
	})
}

// handleStreamingHealth reports the pool's load state.
func (s *Server) handleStreamingHealth(w http.ResponseWriter, _ *http.Request) {
	active := s.manager.Count()
	limit := s.manager.MaxSessions()

	status := "healthy"
	code := http.StatusOK
	switch {
	case active >= limit:
		status = "at_capacity"
		code = http.StatusServiceUnavailable
	case float64(active) >= 0.8*float64(limit):
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{
		"status":          status,
		"active_sessions": active,
		"max_sessions":    limit,
	})
}
