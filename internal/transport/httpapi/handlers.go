package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"foxq/internal/control"
	"foxq/internal/eventbus"
	"foxq/internal/task/periodic"
	"foxq/pkg/logx"
)

func actor(r *http.Request) control.Actor {
	return control.Actor{Source: "http", Name: r.RemoteAddr}
}

func (s *Server[T]) handleIndex(w http.ResponseWriter, r *http.Request) {
	b, err := staticFS.ReadFile("index.html")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dashboard page missing")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}

// handleHealth reports whether the scheduler is running, as a bare JSON
// boolean.
func (s *Server[T]) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.IsRunning())
}

func (s *Server[T]) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Stats())
}

func (s *Server[T]) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

// handleAdd accepts one payload or a JSON array of payloads.
func (s *Server[T]) handleAdd(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}

	var items []T
	if body[0] == '[' {
		err = json.Unmarshal(body, &items)
	} else {
		var one T
		err = json.Unmarshal(body, &one)
		items = []T{one}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("bad json: %v", err))
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "no tasks given")
		return
	}

	ids := s.ctl.Add(r.Context(), actor(r), items...)
	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids})
}

func (s *Server[T]) handleRestartFailed(w http.ResponseWriter, r *http.Request) {
	n := s.ctl.RestartErrors(r.Context(), actor(r))
	writeJSON(w, http.StatusOK, map[string]any{"restarted": n})
}

func (s *Server[T]) handlePause(w http.ResponseWriter, r *http.Request) {
	s.ctl.Stop(r.Context(), actor(r))
	writeJSON(w, http.StatusOK, map[string]any{"running": s.ctl.IsRunning()})
}

func (s *Server[T]) handleResume(w http.ResponseWriter, r *http.Request) {
	s.ctl.Start(r.Context(), actor(r))
	writeJSON(w, http.StatusOK, map[string]any{"running": s.ctl.IsRunning()})
}

func (s *Server[T]) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Checkpoint(r.Context(), actor(r)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": true})
}

func (s *Server[T]) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.ctl.Jobs()
	if jobs == nil {
		jobs = []periodic.JobInfo{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server[T]) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := s.ctl.RunJob(r.Context(), actor(r), name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"ran": name})
	case errors.Is(err, periodic.ErrUnknownJob), errors.Is(err, control.ErrNoJobs):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleRuntime reports process internals: supervised goroutines, dropped
// bus events and the storage driver.
func (s *Server[T]) handleRuntime(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runtime == nil {
		writeError(w, http.StatusNotFound, "runtime info unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Runtime())
}

// handleEvents streams the full queue snapshot as server-sent events: once
// on connect, on every broadcast tick and whenever a task changes state.
func (s *Server[T]) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var changes <-chan eventbus.Event
	if s.bus != nil {
		ch, unsub := s.bus.Subscribe(16,
			eventbus.TaskAdded, eventbus.TaskStarted, eventbus.TaskCompleted,
			eventbus.TaskFailed, eventbus.TaskRestarted,
			eventbus.SchedulerStarted, eventbus.SchedulerStopped,
		)
		defer unsub()
		changes = ch
	}

	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()

	s.log.Debug("sse client connected", logx.String("remote", r.RemoteAddr))
	defer s.log.Debug("sse client disconnected", logx.String("remote", r.RemoteAddr))

	for {
		if err := s.writeSnapshot(w); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		case _, ok := <-changes:
			if !ok {
				changes = nil
			}
			drain(changes)
		}
	}
}

// drain discards already-queued events so a burst yields one snapshot.
func drain(ch <-chan eventbus.Event) {
	if ch == nil {
		return
	}
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (s *Server[T]) writeSnapshot(w io.Writer) error {
	b, err := json.Marshal(s.ctl.Snapshot())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}
