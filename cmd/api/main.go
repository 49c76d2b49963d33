// Command api runs the control-plane HTTP surface (spec §6): the test
// harness's seed/poll-now/transport endpoints, health and metrics
// probes, and the job CRUD/lease endpoints used to operate the Job
// Store directly.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/priceleap/enq/internal/adapters/email"
	"github.com/priceleap/enq/internal/config"
	"github.com/priceleap/enq/internal/domain"
	"github.com/priceleap/enq/internal/handlers/emailpoll"
	"github.com/priceleap/enq/internal/jobstore"
	"github.com/priceleap/enq/internal/logging"
)

type server struct {
	store     *jobstore.Store
	transport email.Transport
	logger    *zap.Logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("api: load config: %v", err)
	}

	logger, err := logging.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("api: init logging: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	// The test harness endpoints only make sense against the mock
	// transport; a live pop3/imap deployment still gets the rest of the
	// control plane, and /v1/test/seed-email reports itself unavailable.
	var transport email.Transport
	if cfg.Email.Provider == "mock" || cfg.Email.Provider == "" {
		transport = email.NewMock()
	}

	srv := &server{
		store:     jobstore.New(db, rdb, cfg.StorePrefix),
		transport: transport,
		logger:    logger,
	}

	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.RealIP)
	rtr.Use(middleware.Recoverer)
	rtr.Use(zapRequestLogger(logger))

	rtr.Get("/healthz", srv.healthz)
	rtr.Handle("/metrics", promhttp.Handler())

	rtr.Post("/v1/test/seed-email", srv.seedEmail)
	rtr.Post("/v1/test/poll-now", srv.pollNow)
	rtr.Get("/v1/transport", srv.transportIdentity)

	rtr.Post("/v1/jobs", srv.enqueueJob)
	rtr.Get("/v1/jobs/{id}", srv.getJob)
	rtr.Post("/v1/lease", srv.lease)
	rtr.Post("/v1/lease/{id}/extend", srv.extendLease)
	rtr.Post("/v1/complete", srv.complete)
	rtr.Post("/v1/fail", srv.fail)

	httpSrv := &http.Server{Addr: cfg.APIAddr, Handler: rtr}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("api starting", zap.String("addr", cfg.APIAddr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("listen and serve", zap.Error(err))
	}
	logger.Info("api stopped")
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *server) seedEmail(w http.ResponseWriter, r *http.Request) {
	mock, ok := s.transport.(*email.Mock)
	if !ok {
		writeError(w, http.StatusConflict, "seed-email requires the mock transport to be bound")
		return
	}

	var body struct {
		ID          string `json:"id"`
		From        string `json:"from"`
		Subject     string `json:"subject"`
		Attachments []struct {
			Filename    string `json:"filename"`
			ContentType string `json:"contentType"`
			Data        []byte `json:"data"`
		} `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg := domain.Email{ID: body.ID, From: body.From, Subject: body.Subject, ReceivedAt: time.Now().UTC()}
	for _, a := range body.Attachments {
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Bytes:       a.Data,
			Size:        int64(len(a.Data)),
		})
	}
	mock.Seed(msg)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "seeded"})
}

func (s *server) pollNow(w http.ResponseWriter, r *http.Request) {
	id, err := s.store.Enqueue(r.Context(), domain.Job{
		Queue:          "default",
		HandlerRef:     emailpoll.HandlerRef,
		ConcurrencyKey: emailpoll.ConcurrencyKey,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *server) transportIdentity(w http.ResponseWriter, r *http.Request) {
	identity := "unbound"
	if s.transport != nil {
		identity = s.transport.Identity()
	}
	writeJSON(w, http.StatusOK, map[string]string{"transport": identity})
}

func (s *server) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Queue          string          `json:"queue"`
		HandlerRef     string          `json:"handlerRef"`
		Payload        json.RawMessage `json:"payload"`
		ConcurrencyKey string          `json:"concurrencyKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Queue == "" {
		body.Queue = "default"
	}

	id, err := s.store.Enqueue(r.Context(), domain.Job{
		Queue:          body.Queue,
		HandlerRef:     body.HandlerRef,
		Payload:        body.Payload,
		ConcurrencyKey: body.ConcurrencyKey,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"job_id": id})
}

func (s *server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) lease(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Queues   []string `json:"queues"`
		WorkerID string   `json:"workerId"`
		LeaseTTL int      `json:"leaseTtlSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(body.Queues) == 0 {
		body.Queues = []string{"default"}
	}
	if body.LeaseTTL <= 0 {
		body.LeaseTTL = 120
	}

	job, err := s.store.Fetch(r.Context(), body.Queues, body.WorkerID, time.Duration(body.LeaseTTL)*time.Second)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		writeJSON(w, http.StatusNoContent, nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) extendLease(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		WorkerID string `json:"workerId"`
		LeaseTTL int    `json:"leaseTtlSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.LeaseTTL <= 0 {
		body.LeaseTTL = 120
	}
	if err := s.store.Heartbeat(r.Context(), id, body.WorkerID, time.Duration(body.LeaseTTL)*time.Second); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) complete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string `json:"id"`
		WorkerID string `json:"workerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.store.Complete(r.Context(), body.ID, body.WorkerID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) fail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string     `json:"id"`
		WorkerID string     `json:"workerId"`
		Error    string     `json:"error"`
		RetryAt  *time.Time `json:"retryAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var cause error
	if body.Error != "" {
		cause = errors.New(body.Error)
	}
	if err := s.store.Fail(r.Context(), body.ID, body.WorkerID, cause, body.RetryAt); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobstore.ErrLeaseLost):
		writeError(w, http.StatusConflict, "lease lost")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func zapRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
