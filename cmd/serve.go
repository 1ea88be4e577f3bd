package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prospect-labs/leadgen-cli/internal/breaker"
	"github.com/prospect-labs/leadgen-cli/internal/executor"
	"github.com/prospect-labs/leadgen-cli/internal/fault"
	"github.com/prospect-labs/leadgen-cli/internal/model"
	"github.com/prospect-labs/leadgen-cli/internal/queue"
	"github.com/prospect-labs/leadgen-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign manager HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{
			store:   env.Store,
			queue:   env.Queue,
			breaker: env.Breaker,
			exec:    env.Exec,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.routes(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// apiServer bundles the handlers' collaborators.
type apiServer struct {
	store   store.Store
	queue   *queue.Queue
	breaker *breaker.Breaker
	exec    *executor.Executor
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Post("/{id}/cancel", s.handleCancelJob)
	})

	r.Route("/circuit-breaker", func(r chi.Router) {
		r.Get("/", s.handleBreakerStatus)
		r.Post("/open", s.handleBreakerOpen)
		r.Post("/close", s.handleBreakerClose)
	})

	r.Post("/organizations", s.handleCreateOrganization)

	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", s.handleCreateCampaign)
		r.Get("/{id}", s.handleGetCampaign)
		r.Get("/{id}/leads", s.handleListCampaignLeads)
	})

	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string          `json:"name"`
		Type       model.JobType   `json:"job_type"`
		CampaignID string          `json:"campaign_id"`
		Params     json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Type == "" {
		req.Type = model.JobTypeFetchLeads
	}

	job := model.Job{
		Name:   req.Name,
		Type:   req.Type,
		Status: model.JobStatusPending,
		Params: req.Params,
	}
	if req.CampaignID != "" {
		job.CampaignID = &req.CampaignID
	}

	created, err := s.store.CreateJob(r.Context(), job)
	if err != nil {
		writeFault(w, err)
		return
	}

	taskID, err := s.queue.Enqueue(r.Context(), created.ID)
	if err != nil {
		// The row stays PENDING with no task handle; operators can re-enqueue.
		zap.L().Error("enqueue failed", zap.Int64("job_id", created.ID), zap.Error(err))
		writeFault(w, err)
		return
	}

	zap.L().Info("job created",
		zap.Int64("job_id", created.ID),
		zap.String("task_id", taskID),
		zap.String("job_type", string(created.Type)),
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"job":     created,
		"task_id": taskID,
	})
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		Status:     model.JobStatus(r.URL.Query().Get("status")),
		CampaignID: r.URL.Query().Get("campaign_id"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := map[string]any{"job": job}
	// Progress is advisory: absence (expired, restarted) is not an error.
	if progress, err := s.queue.GetProgress(r.Context(), id); err == nil && progress != nil {
		resp["progress"] = progress
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := s.exec.Cancel(r.Context(), id); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *apiServer) handleBreakerStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.breaker.Status(r.Context())
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type breakerRequest struct {
	Reason string `json:"reason"`
}

func (s *apiServer) handleBreakerOpen(w http.ResponseWriter, r *http.Request) {
	var req breakerRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	changed, err := s.breaker.ManuallyOpen(r.Context(), req.Reason)
	if err != nil {
		writeFault(w, err)
		return
	}
	s.breakerReply(w, r, changed)
}

func (s *apiServer) handleBreakerClose(w http.ResponseWriter, r *http.Request) {
	var req breakerRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	changed, err := s.breaker.ManuallyClose(r.Context(), req.Reason)
	if err != nil {
		writeFault(w, err)
		return
	}
	s.breakerReply(w, r, changed)
}

func (s *apiServer) breakerReply(w http.ResponseWriter, r *http.Request, changed bool) {
	st, err := s.breaker.Status(r.Context())
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changed": changed,
		"state":   st.State,
	})
}

func (s *apiServer) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	org, err := s.store.CreateOrganization(r.Context(), req.Name)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (s *apiServer) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrgID  string          `json:"org_id"`
		Name   string          `json:"name"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrgID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "org_id and name are required")
		return
	}

	campaign, err := s.store.CreateCampaign(r.Context(), model.Campaign{
		OrgID:  req.OrgID,
		Name:   req.Name,
		Status: model.CampaignStatusDraft,
		Params: req.Params,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (s *apiServer) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := s.store.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	if campaign == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (s *apiServer) handleListCampaignLeads(w http.ResponseWriter, r *http.Request) {
	filter := store.LeadFilter{CampaignID: chi.URLParam(r, "id")}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}

	leads, err := s.store.ListLeads(r.Context(), filter)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFault maps the error taxonomy onto HTTP status codes.
func writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindInvalidState:
		status = http.StatusConflict
	case fault.KindValidation:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}
