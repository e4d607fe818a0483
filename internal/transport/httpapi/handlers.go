package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"belltower/internal/bell"
	"belltower/internal/core"
	"belltower/internal/schedule"
)

// noteDTO is the wire form of one note. Durations are milliseconds,
// matching the persisted format.
type noteDTO struct {
	Bell       int `json:"bellNumber"`
	DurationMS int `json:"duration"`
	DelayMS    int `json:"delay"`
}

type melodyDTO struct {
	Slot  int       `json:"id"`
	Name  string    `json:"name"`
	Notes []noteDTO `json:"notes"`
}

func toNotes(dtos []noteDTO) []bell.Note {
	notes := make([]bell.Note, 0, len(dtos))
	for _, d := range dtos {
		notes = append(notes, bell.Note{
			Bell:  d.Bell,
			Pulse: time.Duration(d.DurationMS) * time.Millisecond,
			Delay: time.Duration(d.DelayMS) * time.Millisecond,
		})
	}
	return notes
}

func toMelodyDTO(v bell.SlotView) melodyDTO {
	out := melodyDTO{Slot: v.Slot, Name: v.Name, Notes: make([]noteDTO, 0, len(v.Notes))}
	for _, n := range v.Notes {
		out.Notes = append(out.Notes, noteDTO{
			Bell:       n.Bell,
			DurationMS: int(n.Pulse.Milliseconds()),
			DelayMS:    int(n.Delay.Milliseconds()),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeServiceErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrDisabled):
		writeErr(w, http.StatusConflict, err)
	case errors.Is(err, core.ErrInvalidBell), errors.Is(err, core.ErrInvalidMelody):
		writeErr(w, http.StatusNotFound, err)
	case errors.Is(err, core.ErrInvalidPulse):
		writeErr(w, http.StatusBadRequest, err)
	case errors.Is(err, core.ErrCatalogFull):
		writeErr(w, http.StatusInsufficientStorage, err)
	case errors.Is(err, core.ErrScheduleDisabled):
		writeErr(w, http.StatusServiceUnavailable, err)
	default:
		writeErr(w, http.StatusBadRequest, err)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func pathInt(r *http.Request, name string) (int, error) {
	return strconv.Atoi(r.PathValue(name))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.svc.Enable()
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.svc.Disable()
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

func (s *Server) handleEstop(w http.ResponseWriter, r *http.Request) {
	s.svc.EmergencyStop()
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (s *Server) handleTestMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.svc.SetTestMode(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"testMode": req.Enabled})
}

func (s *Server) handleRing(w http.ResponseWriter, r *http.Request) {
	if !s.ringLimit.Allow() {
		writeErr(w, http.StatusTooManyRequests, errors.New("ring rate limit exceeded"))
		return
	}
	var req struct {
		Bell       int `json:"bellNumber"`
		DurationMS int `json:"duration"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.svc.Ring(req.Bell, time.Duration(req.DurationMS)*time.Millisecond); err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rang": true})
}

func (s *Server) handleStopMelody(w http.ResponseWriter, r *http.Request) {
	s.svc.StopMelody()
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (s *Server) handleMelodyList(w http.ResponseWriter, r *http.Request) {
	views := s.svc.Melodies()
	out := make([]melodyDTO, 0, len(views))
	for _, v := range views {
		out = append(out, toMelodyDTO(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMelodyGet(w http.ResponseWriter, r *http.Request) {
	slot, err := pathInt(r, "slot")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	v, ok := s.svc.Melody(slot)
	if !ok {
		writeServiceErr(w, core.ErrInvalidMelody)
		return
	}
	writeJSON(w, http.StatusOK, toMelodyDTO(v))
}

func (s *Server) handleMelodyAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string    `json:"name"`
		Notes []noteDTO `json:"notes"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	slot, err := s.svc.AddMelody(r.Context(), req.Name, toNotes(req.Notes))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"id": slot})
}

func (s *Server) handleMelodyUpdate(w http.ResponseWriter, r *http.Request) {
	slot, err := pathInt(r, "slot")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Name  string    `json:"name"`
		Notes []noteDTO `json:"notes"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.svc.UpdateMelody(r.Context(), slot, req.Name, toNotes(req.Notes)); err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"id": slot})
}

func (s *Server) handleMelodyDelete(w http.ResponseWriter, r *http.Request) {
	slot, err := pathInt(r, "slot")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.DeleteMelody(r.Context(), slot); err != nil {
		writeServiceErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMelodyPlay(w http.ResponseWriter, r *http.Request) {
	slot, err := pathInt(r, "slot")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.Play(slot); err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"playing": slot})
}

func (s *Server) quickPlay(slot int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.svc.Play(slot); err != nil {
			writeServiceErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"playing": slot})
	}
}

func (s *Server) handleWeeklyList(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.WeeklyList()
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleWeeklyAdd(w http.ResponseWriter, r *http.Request) {
	var req schedule.Weekly
	if !readJSON(w, r, &req) {
		return
	}
	id, err := s.svc.AddWeekly(r.Context(), req)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"id": id})
}

func (s *Server) handleWeeklyUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	var req schedule.Weekly
	if !readJSON(w, r, &req) {
		return
	}
	req.ID = id
	if err := s.svc.UpdateWeekly(r.Context(), req); err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"id": id})
}

func (s *Server) handleWeeklyDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.DeleteWeekly(r.Context(), id); err != nil {
		writeServiceErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpecialList(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.SpecialList()
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSpecialAdd(w http.ResponseWriter, r *http.Request) {
	var req schedule.Special
	if !readJSON(w, r, &req) {
		return
	}
	id, err := s.svc.AddSpecial(r.Context(), req)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"id": id})
}

func (s *Server) handleSpecialUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	var req schedule.Special
	if !readJSON(w, r, &req) {
		return
	}
	req.ID = id
	if err := s.svc.UpdateSpecial(r.Context(), req); err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"id": id})
}

func (s *Server) handleSpecialDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.DeleteSpecial(r.Context(), id); err != nil {
		writeServiceErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
