package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mergestat/timediff"
	"go.uber.org/zap"
	"stud.l9labs.ru/raspsync/modules/calendar"
	"stud.l9labs.ru/raspsync/modules/database"
	"stud.l9labs.ru/raspsync/modules/syncer"
)

const msgInProgress = "Schedule synchronization is already in progress"

// Размер тела import_group
const maxImportBody = 8 << 20

// Сведения о проходе синхронизации
type RunSummary struct {
	ID             int64              `json:"id"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     *time.Time         `json:"finished_at"`
	Status         database.RunStatus `json:"status"`
	GroupsUpdated  int                `json:"groups_updated"`
	GroupsFailed   int                `json:"groups_failed"`
	LessonsAdded   int                `json:"lessons_added"`
	LessonsRemoved int                `json:"lessons_removed"`
	ErrorMessage   string             `json:"error_message"`
	Ago            string             `json:"ago"`
}

func Summarize(run database.SyncRun, now time.Time) RunSummary {
	sum := RunSummary{
		ID:             run.RunID,
		StartedAt:      run.Started,
		Status:         run.Status,
		GroupsUpdated:  run.GroupsUpdated,
		GroupsFailed:   run.GroupsFailed,
		LessonsAdded:   run.LessonsAdded,
		LessonsRemoved: run.LessonsRemoved,
		ErrorMessage:   run.Error,
		Ago:            timediff.TimeDiff(run.Started, timediff.WithStartTime(now)),
	}
	if !run.Finished.IsZero() {
		finished := run.Finished
		sum.FinishedAt = &finished
	}

	return sum
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.Start(r.Context())
	if err != nil {
		s.fail(w, r, err)

		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":   "Schedule synchronization started",
		"update_id": run.RunID,
	})
}

func (s *Server) triggerSyncSync(w http.ResponseWriter, r *http.Request) {
	// Обрыв соединения не прерывает проход
	run, err := s.svc.SyncAll(context.WithoutCancel(r.Context()))
	if err != nil {
		s.fail(w, r, err)

		return
	}
	if run.Status != database.RunSuccess {
		msg := run.Error
		if msg == "" {
			msg = "Schedule synchronization failed"
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":     msg,
			"update_id": run.RunID,
		})

		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "Schedule synchronization completed successfully",
		"groups_updated":  run.GroupsUpdated,
		"groups_failed":   run.GroupsFailed,
		"lessons_added":   run.LessonsAdded,
		"lessons_removed": run.LessonsRemoved,
		"update_id":       run.RunID,
	})
}

func (s *Server) importGroup(w http.ResponseWriter, r *http.Request) {
	var p syncer.ImportPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBody))
	if err := dec.Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("bad payload: %v", err))

		return
	}
	res, err := s.svc.Import(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)

		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.Latest(r.Context())
	if err != nil {
		s.fail(w, r, err)

		return
	}
	writeJSON(w, http.StatusOK, Summarize(run, s.now()))
}

func (s *Server) syncGroup(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad group id")

		return
	}
	res, err := s.svc.SyncGroup(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)

		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id":        id,
		"lessons_created": res.Created,
		"lessons_updated": res.Updated,
		"lessons_removed": res.Removed,
	})
}

// Календарь группы, ссылку на него подключают в приложениях календаря
func (s *Server) calendar(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad group id")

		return
	}
	gr, events, err := s.svc.Calendar(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)

		return
	}
	var buf bytes.Buffer
	if err := calendar.Render(&buf, gr.Name, events, s.now()); err != nil {
		s.fail(w, r, err)

		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"%d.ics\"", id))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	switch status {
	case http.StatusConflict:
		msg = msgInProgress
	case http.StatusInternalServerError:
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, msg)
}
