package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"stud.l9labs.ru/raspsync/modules/calendar"
	"stud.l9labs.ru/raspsync/modules/database"
	"stud.l9labs.ru/raspsync/modules/metrics"
	"stud.l9labs.ru/raspsync/modules/reconcile"
	"stud.l9labs.ru/raspsync/modules/syncer"
)

// Операции синхронизации, доступные через API
type Service interface {
	Start(ctx context.Context) (database.SyncRun, error)
	SyncAll(ctx context.Context) (database.SyncRun, error)
	SyncGroup(ctx context.Context, extID int64) (reconcile.Result, error)
	Import(ctx context.Context, p syncer.ImportPayload) (syncer.ImportResult, error)
	Latest(ctx context.Context) (database.SyncRun, error)
	Calendar(ctx context.Context, extID int64) (database.Group, []calendar.Event, error)
}

type Options struct {
	Token   string
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type Server struct {
	svc     Service
	token   string
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	router  *mux.Router
}

func New(svc Service, opt Options) *Server {
	if opt.Log == nil {
		opt.Log = zap.NewNop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	s := &Server{
		svc:     svc,
		token:   opt.Token,
		log:     opt.Log,
		metrics: opt.Metrics,
		now:     opt.Now,
		router:  mux.NewRouter(),
	}
	s.routes()

	return s
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)
	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/ics/{id:[0-9]+}.ics", s.calendar).Methods(http.MethodGet)

	sched := s.router.PathPrefix("/api/schedule").Subrouter()
	sched.Use(s.auth)
	sched.HandleFunc("/updates/trigger_sync", s.triggerSync).Methods(http.MethodPost)
	sched.HandleFunc("/updates/trigger_sync_sync", s.triggerSyncSync).Methods(http.MethodPost)
	sched.HandleFunc("/updates/import_group", s.importGroup).Methods(http.MethodPost)
	sched.HandleFunc("/updates/latest", s.latest).Methods(http.MethodGet)
	sched.HandleFunc("/groups/{id:[0-9]+}/sync", s.syncGroup).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Запуск HTTP-сервера до отмены контекста
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// trigger_sync_sync держит соединение весь проход
		WriteTimeout: 2 * time.Hour,
		IdleTimeout:  60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.log.Info("api server listening", zap.String("address", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", s.now().Sub(start)),
		)
	})
}

// Статический токен, если он задан
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)

			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")

			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Код ответа по ошибке сервиса
func statusOf(err error) int {
	switch {
	case errors.Is(err, database.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, syncer.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNoRuns), errors.Is(err, database.ErrGroupNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
