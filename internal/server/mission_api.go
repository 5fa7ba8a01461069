package server

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/storage"
)

const maxImportSize = 32 << 20

func (s *HttpServer) registerMissionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/missions", s.handleMissions)
	mux.HandleFunc("/api/missions/disable", s.handleDisable)
	mux.HandleFunc("/api/missions/reset", s.handleReset)
	mux.HandleFunc("/api/missions/clear", s.handleClear)
	mux.HandleFunc("/api/missions/export", s.handleExport)
	mux.HandleFunc("/api/missions/import", s.handleImport)
}

// parseFilters reads ?stars=1,2&min=1&max=20. ok is false when the query
// carries no filter at all.
func parseFilters(q map[string][]string) (f mission.Filters, ok bool, err error) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	stars, minLevel, maxLevel := get("stars"), get("min"), get("max")
	if stars == "" && minLevel == "" && maxLevel == "" {
		return f, false, nil
	}

	f.MinLevel, f.MaxLevel = 0, math.MaxInt32
	if stars == "" {
		f.Stars = []int{1, 2, 3, 4, 5}
	}
	for _, part := range strings.Split(stars, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 || n > 5 {
			return f, false, fmt.Errorf("invalid star rating %q", part)
		}
		f.Stars = append(f.Stars, n)
	}
	if minLevel != "" {
		if f.MinLevel, err = strconv.Atoi(minLevel); err != nil {
			return f, false, fmt.Errorf("invalid min level %q", minLevel)
		}
	}
	if maxLevel != "" {
		if f.MaxLevel, err = strconv.Atoi(maxLevel); err != nil {
			return f, false, fmt.Errorf("invalid max level %q", maxLevel)
		}
	}
	return f, true, nil
}

func (s *HttpServer) handleMissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f, filtered, err := parseFilters(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	all, err := s.missions.GetAll(r.Context())
	if err != nil {
		s.logger.Error("Failed to list missions", slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]mission.Mission, 0, len(all))
	for _, m := range all {
		if filtered && !f.Match(m.Record) {
			continue
		}
		out = append(out, m)
	}
	mission.SortNewestFirst(out)
	writeJSON(w, http.StatusOK, out)
}

func (s *HttpServer) handleDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	disabled := true
	if v := r.URL.Query().Get("disabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "disabled must be true or false", http.StatusBadRequest)
			return
		}
		disabled = b
	}

	if err := s.missions.SetDisabled(r.Context(), id, disabled); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "disabled": disabled})
}

func (s *HttpServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, skipped, err := s.missions.Shareable(r.Context())
	if err != nil {
		s.logger.Error("Failed to export missions", slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	name := fmt.Sprintf("missions-%s.json", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Skipped-Records", strconv.Itoa(skipped))
	if err := mission.Export(w, records); err != nil {
		s.logger.Error("Failed to write export", slog.Any("error", err))
	}
}

// handleReset puts a cleared mission back into rotation.
func (s *HttpServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := s.missions.ResetCleared(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "cleared": false})
}

// handleClear deletes every mission. It refuses while a session is running
// so the machine never points at a deleted record.
func (s *HttpServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if st, err := s.bot.State(r.Context()); err == nil && st.SessionActive {
		http.Error(w, "stop the bot before clearing missions", http.StatusConflict)
		return
	}
	if err := s.missions.ClearAll(r.Context()); err != nil {
		s.logger.Error("Failed to clear missions", slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("All missions cleared from status UI")
	w.WriteHeader(http.StatusNoContent)
}

func (s *HttpServer) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, rejected, err := mission.ParseExport(http.MaxBytesReader(w, r.Body, maxImportSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.missions.ImportMerge(r.Context(), records)
	if err != nil {
		s.logger.Error("Failed to import missions", slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	res.Rejected += rejected

	s.logger.Info("Missions imported",
		slog.Int("imported", res.Imported),
		slog.Int("skipped", res.Skipped),
		slog.Int("rejected", res.Rejected),
	)
	writeJSON(w, http.StatusOK, res)
}
