package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"freelancedao/app"
	"freelancedao/dispute"
	"freelancedao/escrow"
	"freelancedao/eventlog"
	"freelancedao/fault"
	"freelancedao/identity"
	"freelancedao/job"
	"freelancedao/logging"
)

type ctxKey string

const (
	ctxKeyAccount   ctxKey = "account"
	ctxKeyRole      ctxKey = "role"
	ctxKeyRequestID ctxKey = "request_id"
)

var errMissingToken = fault.New(fault.Authorization, "api: missing bearer token")

// Pinger reports store liveness for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the marketplace over HTTP.
type Server struct {
	identityService *identity.Service
	jobService      *job.Service
	ledger          *escrow.Ledger
	disputeService  *dispute.Service
	eventService    *eventlog.Service
	store           Pinger
	logger          *logging.Logger
}

func NewServer(a *app.App, store Pinger, logger *logging.Logger) *Server {
	return &Server{
		identityService: a.Identity,
		jobService:      a.Jobs,
		ledger:          a.Escrow,
		disputeService:  a.Disputes,
		eventService:    a.Events,
		store:           store,
		logger:          logger.WithComponent("http"),
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)

		api.Get("/jobs/{id}", s.handleGetJob)
		api.Get("/escrow/{jobID}", s.handleEscrow)
		api.Get("/proposals/{id}", s.handleGetProposal)
		api.Get("/events", s.handleEvents)

		api.Group(func(p chi.Router) {
			p.Use(s.authenticate)

			p.Post("/jobs", s.handleCreateJob)
			p.Get("/jobs", s.handleListJobs)
			p.Post("/jobs/{id}/{action}", s.handleJobAction)

			p.Post("/dao/members", s.handleJoin)
			p.Post("/proposals", s.handleCreateProposal)
			p.Post("/proposals/{id}/votes", s.handleVote)
			p.Post("/proposals/{id}/execute", s.handleExecute)
		})
	})
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

// authenticate resolves the bearer token into the caller account.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			s.writeErrorStatus(w, r, http.StatusUnauthorized, errMissingToken)
			return
		}
		account, role, err := s.identityService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			s.writeErrorStatus(w, r, http.StatusUnauthorized, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyAccount, account)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(ctx context.Context) string {
	account, _ := ctx.Value(ctxKeyAccount).(string)
	return account
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.writeErrorStatus(w, r, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type accountResponse struct {
	Account  string        `json:"account"`
	Role     identity.Role `json:"role"`
	Verified bool          `json:"verified"`
}

func toAccountResponse(a identity.Account) accountResponse {
	return accountResponse{Account: a.Address, Role: a.Role, Verified: a.Verified}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	acct, err := s.identityService.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(acct))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req identity.LoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.identityService.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   res.Token,
		"account": toAccountResponse(res.Account),
	})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	j, err := s.jobService.CreateJob(r.Context(), callerFrom(r.Context()), req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	var (
		jobs []job.Job
		err  error
	)
	switch r.URL.Query().Get("as") {
	case "", "employer":
		jobs, err = s.jobService.ListByEmployer(r.Context(), caller)
	case "worker":
		jobs, err = s.jobService.ListByWorker(r.Context(), caller)
	default:
		s.writeErrorStatus(w, r, http.StatusBadRequest, errors.New("as must be employer or worker"))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []job.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs, "total": len(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	j, err := s.jobService.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// handleJobAction dispatches the lifecycle transitions that share the
// POST /api/jobs/{id}/{action} shape.
func (s *Server) handleJobAction(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	caller := callerFrom(ctx)

	var (
		j   job.Job
		err error
	)
	switch chi.URLParam(r, "action") {
	case "deposit":
		var req struct {
			Amount int64 `json:"amount"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		j, err = s.jobService.DepositFunds(ctx, caller, id, req.Amount)
	case "assign":
		var req struct {
			Worker string `json:"worker"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		j, err = s.jobService.AssignWorker(ctx, caller, id, req.Worker)
	case "complete":
		j, err = s.jobService.MarkComplete(ctx, caller, id)
	case "close":
		j, err = s.jobService.CloseJob(ctx, caller, id)
	case "cancel":
		j, err = s.jobService.CancelJob(ctx, caller, id)
	case "dispute":
		j, err = s.jobService.RaiseDispute(ctx, caller, id)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "jobID")
	if !ok {
		return
	}
	entry, err := s.ledger.Entry(r.Context(), id)
	if errors.Is(err, escrow.ErrEntryNotFound) {
		writeJSON(w, http.StatusOK, escrow.Entry{JobID: id})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	if err := s.disputeService.Join(r.Context(), caller); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"account": caller, "member": true})
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID       int64  `json:"job_id"`
		Description string `json:"description"`
		FavorWorker bool   `json:"favor_worker"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.disputeService.CreateProposal(r.Context(), callerFrom(r.Context()), req.JobID, req.Description, req.FavorWorker)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := s.disputeService.GetProposal(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Support *bool `json:"support"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Support == nil {
		s.writeErrorStatus(w, r, http.StatusBadRequest, errors.New("support is required"))
		return
	}
	p, err := s.disputeService.Vote(r.Context(), callerFrom(r.Context()), id, *req.Support)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := s.disputeService.Execute(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after, err := parseIntParam(q.Get("after"))
	if err != nil {
		s.writeErrorStatus(w, r, http.StatusBadRequest, err)
		return
	}
	limit, err := parseIntParam(q.Get("limit"))
	if err != nil {
		s.writeErrorStatus(w, r, http.StatusBadRequest, err)
		return
	}
	events, err := s.eventService.List(r.Context(), after, int(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}
	next := after
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events, "next": next})
}

func parseIntParam(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		s.writeErrorStatus(w, r, http.StatusBadRequest, errors.New("invalid "+name))
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeErrorStatus(w, r, http.StatusBadRequest, errors.New("invalid json body"))
		return false
	}
	return true
}

// statusFor maps an error kind onto its HTTP status.
func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.Authorization:
		return http.StatusForbidden
	case fault.Precondition:
		return http.StatusConflict
	case fault.Resource:
		return http.StatusUnprocessableEntity
	case fault.Transfer:
		return http.StatusBadGateway
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Invalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorStatus(w, r, statusFor(err), err)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{
		"error":      msg,
		"kind":       fault.KindOf(err).String(),
		"request_id": w.Header().Get("X-Request-ID"),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
