package server

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) roomFromQuery(w http.ResponseWriter, r *http.Request) (*Room, bool) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = s.cfg.Server.Room
	}
	room, ok := s.rooms.Room(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
	}
	return room, ok
}

// HandleAdminConfig 提供房间配置的读取与更新（热更新基本规则）
// GET /admin/config?room=room-1  返回当前配置
// POST /admin/config?room=room-1 以 JSON 载荷更新部分字段
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	room, ok := s.roomFromQuery(w, r)
	if !ok {
		return
	}

	type patch struct {
		Step               *float64 `json:"step,omitempty"`
		MaxInputsPerTick   *int     `json:"maxInputsPerTick,omitempty"`
		SimulateDelayMinMs *int     `json:"simulateDelayMinMs,omitempty"`
		SimulateDelayMaxMs *int     `json:"simulateDelayMaxMs,omitempty"`
		SimulateDropProb   *float64 `json:"simulateDropProb,omitempty"`
		HitRadius          *float64 `json:"hitRadius,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, room.Settings())
	case http.MethodPost:
		var body patch
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		cur := room.Settings()
		if body.Step != nil {
			cur.Step = *body.Step
		}
		if body.MaxInputsPerTick != nil {
			cur.MaxInputsPerTick = *body.MaxInputsPerTick
		}
		if body.SimulateDelayMinMs != nil {
			cur.SimulateDelayMinMs = *body.SimulateDelayMinMs
		}
		if body.SimulateDelayMaxMs != nil {
			cur.SimulateDelayMaxMs = *body.SimulateDelayMaxMs
		}
		if body.SimulateDropProb != nil {
			cur.SimulateDropProb = *body.SimulateDropProb
		}
		if body.HitRadius != nil {
			cur.HitRadius = *body.HitRadius
		}
		if err := room.UpdateSettings(cur); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": cur})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出指定房间的运行指标
// GET /admin/metrics?room=room-1
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	room, ok := s.roomFromQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":    room.ID,
		"tick":    room.CurrentTick(),
		"metrics": room.metrics.Snapshot(),
	})
}

// HandleVerdicts 最近的命中判定
// GET /admin/verdicts?player=alice&limit=20
func (s *Server) HandleVerdicts(w http.ResponseWriter, r *http.Request) {
	if s.verdicts == nil {
		http.Error(w, "verdict store disabled", http.StatusNotFound)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	out, err := s.verdicts.Recent(r.Context(), r.URL.Query().Get("player"), limit)
	if err != nil {
		s.log.Sugar().Errorf("verdicts query: %v", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verdicts": out})
}
