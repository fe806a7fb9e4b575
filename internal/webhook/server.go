package webhook

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/internal/observer"
	"gitlab.com/leadops/api/funnel-events-processor/internal/sources"
	"gitlab.com/leadops/api/funnel-events-processor/internal/tenant"
	"gitlab.com/leadops/api/funnel-events-processor/internal/usecase"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/utils"
)

// maxBodyBytes caps webhook payload size. Upstream providers send small JSON
// documents; anything larger is abuse or misconfiguration.
const maxBodyBytes = 1 << 20

// ReplaySubmitter queues journaled events for reprocessing.
type ReplaySubmitter interface {
	SubmitOutcome(ctx context.Context, outcome model.ResolutionOutcome, limit int) (int, error)
}

// Server is the HTTP ingress for direct webhook deliveries plus the operator
// endpoints (stage correction, timeline, ambiguous review, replay).
type Server struct {
	httpServer *http.Server
	router     chi.Router
	service    usecase.IngestServiceInterface
	replay     ReplaySubmitter
	tenantID   string
	logger     *zap.Logger
}

// IngestResponse is the body returned for every accepted webhook delivery.
type IngestResponse struct {
	Outcome   model.ResolutionOutcome `json:"outcome"`
	EventID   string                  `json:"event_id"`
	ContactID string                  `json:"contact_id,omitempty"`
}

// ErrorResponse is the body returned for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer creates the webhook gateway. replay may be nil; the replay
// endpoint then returns 503.
func NewServer(port int, tenantID string, service usecase.IngestServiceInterface, replay ReplaySubmitter, baseLogger *zap.Logger) *Server {
	s := &Server{
		service:  service,
		replay:   replay,
		tenantID: tenantID,
		logger:   baseLogger.Named("webhook"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/webhooks/{tenant}/{source}", func(r chi.Router) {
		// Some providers probe the endpoint with GET before enabling it.
		r.Get("/", s.handleProbe)
		r.Post("/", s.handleIngest)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/corrections", s.handleCorrectStage)
		r.Get("/contacts", s.handleListContacts)
		r.Get("/contacts/{contactID}/timeline", s.handleTimeline)
		r.Get("/events/ambiguous", s.handleListAmbiguous)
		r.Post("/replay", s.handleReplay)
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Router exposes the chi router, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting webhook server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Webhook server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping webhook server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "tenant") != s.tenantID {
		utils.WriteJSONResponse(w, http.StatusNotFound, ErrorResponse{Error: "unknown tenant"})
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleIngest accepts one webhook delivery and runs it through the pipeline
// synchronously. Business outcomes, rejected and ambiguous included, return
// 200 so providers do not hammer the endpoint with retries; only store
// unavailability returns 503 and lets the sender's retry recover.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tenantSlug := chi.URLParam(r, "tenant")
	sourceSlug := chi.URLParam(r, "source")

	if tenantSlug != s.tenantID {
		observer.IncWebhookRequest(sourceSlug, tenantSlug, "tenant_mismatch")
		utils.WriteJSONResponse(w, http.StatusNotFound, ErrorResponse{Error: "unknown tenant"})
		return
	}

	source, _ := model.KnownSource(sourceSlug)

	requestID := uuid.NewString()
	log := s.logger.With(
		zap.String("request_id", requestID),
		zap.String("source", string(source)),
	)
	ctx := tenant.WithTenantID(r.Context(), s.tenantID)
	ctx = tenant.WithRequestID(ctx, requestID)
	ctx = logger.WithLogger(ctx, log)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("Failed to read webhook body", zap.Error(err))
		observer.IncWebhookRequest(sourceSlug, s.tenantID, "body_error")
		utils.WriteJSONResponse(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large or unreadable"})
		return
	}

	envelope, buildErr := sources.BuildEnvelope(source, s.tenantID, body, utils.Now())

	var event *model.InboundEvent
	if buildErr != nil {
		event, err = s.service.JournalRejected(ctx, envelope, nil, buildErr)
	} else {
		event, err = s.service.ProcessEvent(ctx, envelope, nil)
	}

	duration := time.Since(start)
	observer.ObserveWebhookRequestDuration(sourceSlug, s.tenantID, duration)

	if err != nil {
		// Only transient store failures reach here; everything terminal was
		// journaled and returned as a row.
		log.Error("Webhook processing unavailable", zap.Error(err), zap.Duration("duration", duration))
		observer.IncWebhookRequest(sourceSlug, s.tenantID, "unavailable")
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable, retry later"})
		return
	}

	observer.IncWebhookRequest(sourceSlug, s.tenantID, string(event.Outcome))

	resp := IngestResponse{
		Outcome: event.Outcome,
		EventID: event.ID,
	}
	if event.ContactID != nil {
		resp.ContactID = *event.ContactID
	}
	utils.WriteJSONResponse(w, http.StatusOK, resp)
}

// handleCorrectStage applies an operator stage correction.
func (s *Server) handleCorrectStage(w http.ResponseWriter, r *http.Request) {
	ctx := tenant.WithTenantID(r.Context(), s.tenantID)
	ctx = logger.WithLogger(ctx, s.logger)

	var req model.StageCorrectionRequest
	if err := utils.DecodeJSONBody(r, maxBodyBytes, &req); err != nil {
		utils.WriteJSONResponse(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	event, err := s.service.CorrectStage(ctx, req)
	if err != nil {
		switch {
		case apperrors.IsNotFoundError(err):
			utils.WriteJSONResponse(w, http.StatusNotFound, ErrorResponse{Error: "contact not found"})
		case apperrors.IsBadRequestError(err):
			utils.WriteJSONResponse(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		default:
			utils.WriteJSONResponse(w, http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable, retry later"})
		}
		return
	}

	resp := IngestResponse{Outcome: event.Outcome, EventID: event.ID}
	if event.ContactID != nil {
		resp.ContactID = *event.ContactID
	}
	utils.WriteJSONResponse(w, http.StatusOK, resp)
}

// handleTimeline returns the full journal for one contact, oldest first.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := tenant.WithTenantID(r.Context(), s.tenantID)
	ctx = logger.WithLogger(ctx, s.logger)

	events, err := s.service.ContactTimeline(ctx, chi.URLParam(r, "contactID"))
	if err != nil {
		if apperrors.IsBadRequestError(err) {
			utils.WriteJSONResponse(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable, retry later"})
		return
	}

	utils.WriteJSONResponse(w, http.StatusOK, events)
}

// handleListContacts pages through contacts sitting at one funnel stage.
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	ctx := tenant.WithTenantID(r.Context(), s.tenantID)
	ctx = logger.WithLogger(ctx, s.logger)

	stage := model.Stage(r.URL.Query().Get("stage"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	contacts, err := s.service.ListContactsByStage(ctx, stage, limit, offset)
	if err != nil {
		if apperrors.IsBadRequestError(err) {
			utils.WriteJSONResponse(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable, retry later"})
		return
	}

	utils.WriteJSONResponse(w, http.StatusOK, contacts)
}

// handleListAmbiguous pages through deliveries parked for manual review.
func (s *Server) handleListAmbiguous(w http.ResponseWriter, r *http.Request) {
	ctx := tenant.WithTenantID(r.Context(), s.tenantID)
	ctx = logger.WithLogger(ctx, s.logger)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	events, err := s.service.ListAmbiguousEvents(ctx, limit, offset)
	if err != nil {
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable, retry later"})
		return
	}

	utils.WriteJSONResponse(w, http.StatusOK, events)
}

// handleReplay queues journaled rows with the given outcome for reprocessing.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if s.replay == nil {
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, ErrorResponse{Error: "replay worker not running"})
		return
	}

	ctx := tenant.WithTenantID(r.Context(), s.tenantID)
	ctx = logger.WithLogger(ctx, s.logger)

	outcome := model.ResolutionOutcome(r.URL.Query().Get("outcome"))
	switch outcome {
	case model.OutcomeRejected, model.OutcomeAmbiguous:
	case "":
		outcome = model.OutcomeRejected
	default:
		utils.WriteJSONResponse(w, http.StatusBadRequest, ErrorResponse{Error: "outcome must be rejected or ambiguous"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	queued, err := s.replay.SubmitOutcome(ctx, outcome, limit)
	if err != nil {
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		return
	}

	utils.WriteJSONResponse(w, http.StatusAccepted, map[string]int{"queued": queued})
}
