package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/legionhq/legiond/internal/legion"
	"github.com/legionhq/legiond/internal/schedule"
	"github.com/legionhq/legiond/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.getStatus)

	mux.HandleFunc("GET /api/legions", s.listLegions)
	mux.HandleFunc("POST /api/legions", s.createLegion)
	mux.HandleFunc("DELETE /api/legions/{legion}", s.deleteLegion)

	mux.HandleFunc("GET /api/legions/{legion}/minions", s.listMinions)
	mux.HandleFunc("POST /api/legions/{legion}/minions", s.createMinion)
	mux.HandleFunc("DELETE /api/legions/{legion}/minions/{name}", s.terminateMinion)
	mux.HandleFunc("POST /api/legions/{legion}/minions/{name}/resume", s.resumeMinion)
	mux.HandleFunc("POST /api/legions/{legion}/minions/{name}/expertise", s.setExpertise)

	mux.HandleFunc("POST /api/legions/{legion}/halt", s.haltLegion)
	mux.HandleFunc("POST /api/legions/{legion}/resume", s.resumeLegion)

	mux.HandleFunc("GET /api/legions/{legion}/channels", s.listChannels)
	mux.HandleFunc("POST /api/legions/{legion}/channels", s.createChannel)
	mux.HandleFunc("POST /api/legions/{legion}/channels/{name}/join", s.joinChannel)

	mux.HandleFunc("GET /api/legions/{legion}/comms", s.listComms)
	mux.HandleFunc("POST /api/legions/{legion}/comms", s.sendComm)

	mux.HandleFunc("GET /api/legions/{legion}/capabilities", s.searchCapabilities)

	mux.HandleFunc("GET /api/legions/{legion}/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/legions/{legion}/schedules", s.createSchedule)
	mux.HandleFunc("DELETE /api/legions/{legion}/schedules/{id}", s.deleteSchedule)

	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)
}

// legionFromPath resolves the {legion} path segment, writing a 404 when it
// does not exist.
func (s *Server) legionFromPath(w http.ResponseWriter, r *http.Request) (*legion.Legion, bool) {
	l, ok := s.co.Legion(r.PathValue("legion"))
	if !ok {
		jsonError(w, "legion not found", http.StatusNotFound)
		return nil, false
	}
	return l, true
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	legions := s.co.ListLegions()
	statuses := make([]legion.Status, 0, len(legions))
	for _, l := range legions {
		statuses = append(statuses, l.Status())
	}
	jsonResponse(w, map[string]any{
		"version": s.version,
		"uptime":  formatUptime(time.Since(s.startedAt)),
		"legions": statuses,
	})
}

func (s *Server) listLegions(w http.ResponseWriter, r *http.Request) {
	legions := s.co.ListLegions()
	out := make([]legion.Status, 0, len(legions))
	for _, l := range legions {
		out = append(out, l.Status())
	}
	jsonResponse(w, out)
}

func (s *Server) createLegion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name       string `json:"name"`
		MaxMinions int    `json:"max_minions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	l, err := s.co.CreateLegion(body.Name, body.MaxMinions)
	if err != nil {
		jsonErrorFor(w, err)
		return
	}
	jsonResponse(w, l.Status())
}

func (s *Server) deleteLegion(w http.ResponseWriter, r *http.Request) {
	if err := s.co.DeleteLegion(r.Context(), r.PathValue("legion")); err != nil {
		jsonErrorFor(w, err)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) listMinions(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}
	jsonResponse(w, l.ListMinions())
}

func (s *Server) createMinion(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}

	var body struct {
		Name         string   `json:"name"`
		Role         string   `json:"role"`
		Instructions string   `json:"instructions"`
		Capabilities []string `json:"capabilities"`
		Channels     []string `json:"channels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m, err := l.CreateMinion(r.Context(), legion.MinionSpec{
		Name:         body.Name,
		Role:         body.Role,
		Instructions: body.Instructions,
		Capabilities: body.Capabilities,
		Channels:     body.Channels,
	})
	if err != nil {
		jsonErrorFor(w, err)
		return
	}
	jsonResponse(w, m)
}

func (s *Server) terminateMinion(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}
	m, ok := l.MinionByName(r.PathValue("name"))
	if !ok {
		jsonError(w, "minion not found", http.StatusNotFound)
		return
	}

	descendants, err := l.ForceTerminate(r.Context(), m.ID)
	if err != nil {
		jsonErrorFor(w, err)
		return
	}
	jsonResponse(w, map[string]any{"status": "terminated", "descendants": descendants})
}

func (s *Server) resumeMinion(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}
	if err := l.Resume(r.Context(), r.PathValue("name")); err != nil {
		jsonErrorFor(w, err)
		return
	}
	jsonResponse(w, map[string]string{"status": "resumed"})
}

func (s *Server) setExpertise(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}

	var body struct {
		Capability string  `json:"capability"`
		Score      float64 `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := l.SetExpertise(r.PathValue("name"), body.Capability, body.Score); err != nil {
		jsonErrorFor(w, err)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) haltLegion(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}
	jsonResponse(w, map[string]any{"halted": l.HaltAll(r.Context())})
}

func (s *Server) resumeLegion(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}
	jsonResponse(w, map[string]any{"resumed": l.ResumeAll(r.Context())})
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}
	jsonResponse(w, l.ListChannels())
}

func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Purpose     string `json:"purpose"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ch, err := l.CreateChannel(legion.ChannelSpec{
		Name:        body.Name,
		Description: body.Description,
		Purpose:     body.Purpose,
	})
	if err != nil {
		jsonErrorFor(w, err)
		return
	}
	jsonResponse(w, ch)
}

func (s *Server) joinChannel(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}

	var body struct {
		Minion string `json:"minion"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := l.JoinChannel(body.Minion, r.PathValue("name")); err != nil {
		jsonErrorFor(w, err)
		return
	}
	jsonResponse(w, map[string]string{"status": "joined"})
}

func (s *Server) listComms(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	includeHidden := r.URL.Query().Get("hidden") == "1"

	comms, err := s.store.GetComms(l.ID, limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]store.Comm, 0, len(comms))
	for _, c := range comms {
		if c.Hidden && !includeHidden {
			continue
		}
		out = append(out, c)
	}
	jsonResponse(w, out)
}

func (s *Server) sendComm(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}

	var body struct {
		To      string `json:"to"`      // minion name, or "#channel"
		Type    string `json:"type"`    // defaults to task
		Content string `json:"content"`
		ReplyTo string `json:"reply_to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	spec := legion.Comm{
		FromOperator: true,
		Content:      body.Content,
		Type:         legion.CommType(body.Type),
		ReplyTo:      body.ReplyTo,
	}
	if spec.Type == "" {
		spec.Type = legion.CommTask
	}
	if len(body.To) > 0 && body.To[0] == '#' {
		spec.ToChannel = body.To[1:]
	} else {
		spec.ToMinion = body.To
	}

	c, err := legion.NewComm(spec)
	if err != nil {
		jsonErrorFor(w, err)
		return
	}
	result, err := l.Route(r.Context(), c)
	if err != nil {
		jsonErrorFor(w, err)
		return
	}
	jsonResponse(w, map[string]any{
		"comm_id":  result.CommID,
		"notified": result.MembersNotified,
	})
}

func (s *Server) searchCapabilities(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}
	jsonResponse(w, l.SearchCapability(r.URL.Query().Get("q")))
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}
	schedules, err := s.store.ListScheduledComms(l.ID)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if schedules == nil {
		schedules = []store.ScheduledComm{}
	}
	out := make([]map[string]any, 0, len(schedules))
	for _, sc := range schedules {
		out = append(out, map[string]any{
			"id":          sc.ID,
			"name":        sc.Name,
			"schedule":    schedule.Describe(sc.Schedule),
			"target":      sc.Target,
			"comm_type":   sc.CommType,
			"content":     sc.Content,
			"status":      sc.Status,
			"next_run_at": sc.NextRunAt,
			"last_run_at": sc.LastRunAt,
			"last_error":  sc.LastError,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	l, ok := s.legionFromPath(w, r)
	if !ok {
		return
	}

	var body struct {
		Name     string `json:"name"`
		Schedule string `json:"schedule"` // cron string or schedule JSON
		Target   string `json:"target"`
		CommType string `json:"comm_type"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Schedule == "" || body.Target == "" || body.Content == "" {
		jsonError(w, "name, schedule, target and content are required", http.StatusBadRequest)
		return
	}

	normalized, err := schedule.Normalize(body.Schedule)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	commType := body.CommType
	if commType == "" {
		commType = string(legion.CommTask)
	}
	if !legion.ValidCommType(legion.CommType(commType)) {
		jsonError(w, fmt.Sprintf("invalid comm type %q", commType), http.StatusBadRequest)
		return
	}

	sc := &store.ScheduledComm{
		ID:        uuid.New().String(),
		LegionID:  l.ID,
		Name:      body.Name,
		Schedule:  normalized,
		Target:    body.Target,
		CommType:  commType,
		Content:   body.Content,
		Status:    "active",
		NextRunAt: schedule.CalculateNextRun(normalized),
	}
	if err := s.store.SaveScheduledComm(sc); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, sc)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteScheduledComm(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

// jsonErrorFor maps the orchestration error taxonomy onto HTTP status codes.
func jsonErrorFor(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, legion.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, legion.ErrValidation):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, legion.ErrCapacity):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, legion.ErrPermission):
		jsonError(w, err.Error(), http.StatusForbidden)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
