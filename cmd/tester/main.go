package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/leadops/api/funnel-events-processor/internal/config"
	"gitlab.com/leadops/api/funnel-events-processor/internal/jetstream"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/internal/observer"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
	"go.uber.org/zap"
)

// persona is a synthetic lead reused across generated deliveries so a share
// of events resolves to an existing contact instead of always creating one.
type persona struct {
	SubscriberID string
	CrmID        string
	CustomerID   string
	Email        string
	Phone        string
	FirstName    string
	LastName     string
}

// IndividualTaskDetail holds info for a single delivery within a batch.
type IndividualTaskDetail struct {
	Source   model.Source
	TenantID string
	Persona  *persona
}

// BatchTask represents a batch of deliveries to be published by a worker.
type BatchTask struct {
	Tasks      []IndividualTaskDetail
	NatsClient jetstream.ClientInterface
}

const defaultBatchSize = 50

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	natsURL := flag.String("url", cfg.NATS.URL, "NATS server URL")
	sourcesStr := flag.String("sources", "manychat,crm,stripe,denefits", "Comma-separated list of webhook sources")
	rate := flag.Int("rate", 100, "Target deliveries per second (total)")
	duration := flag.Duration("duration", 1*time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Number of concurrent workers")
	tenantIDsStr := flag.String("tenant_ids", cfg.Tenant.ID, "Comma-separated list of tenant IDs")
	batchSize := flag.Int("batch-size", defaultBatchSize, "Number of deliveries to generate/publish per worker batch")
	personaCount := flag.Int("personas", 200, "Size of the synthetic lead pool shared across deliveries")
	metricsPort := flag.Int("metrics-port", 9091, "Port for Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Webhook Load Generator (Batch Mode)\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generates load for the funnel-events-processor by publishing webhook deliveries to NATS.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *batchSize <= 0 {
		*batchSize = defaultBatchSize
		fmt.Printf("Invalid batch size, using default: %d\n", defaultBatchSize)
	}
	if *personaCount <= 0 {
		*personaCount = 200
	}

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start metrics server with graceful shutdown
	metricsServer := startMetricsServer(*metricsPort)
	var metricsWg sync.WaitGroup
	metricsWg.Add(1)
	go func() {
		defer metricsWg.Done()
		<-ctx.Done()
		logger.Log.Info("Shutting down metrics server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Metrics server shutdown error", zap.Error(err))
		} else {
			logger.Log.Info("Metrics server stopped gracefully.")
		}
	}()

	logger.Log.Info("Starting Webhook Load Generator (Batch Mode)",
		zap.String("nats_url", *natsURL),
		zap.String("sources", *sourcesStr),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Int("batch_size", *batchSize),
		zap.String("tenant_ids", *tenantIDsStr),
		zap.Int("personas", *personaCount),
		zap.Int("metrics_port", *metricsPort),
		zap.String("log_level", *logLevel),
	)

	natsClient, err := jetstream.NewClient(*natsURL)
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
	}
	defer natsClient.Close()
	logger.Log.Info("Connected to NATS", zap.String("url", *natsURL))

	sources := parseSources(*sourcesStr)
	tenantIDs := strings.Split(*tenantIDsStr, ",")
	if len(sources) == 0 {
		logger.Log.Fatal("No valid sources provided")
	}
	if len(tenantIDs) == 0 || tenantIDs[0] == "" {
		logger.Log.Fatal("No tenant IDs provided")
	}

	gofakeit.Seed(time.Now().UnixNano())
	personas := newPersonaPool(*personaCount)

	// Worker pool
	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		batchWorkerFunc(data, &wg)
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	logger.Log.Info("Worker pool initialized", zap.Int("size", *concurrency))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var loopWg sync.WaitGroup
	loopWg.Add(1)

	go runBatchLoadLoop(ctx, *rate, *duration, *batchSize, sources, tenantIDs, personas, natsClient, pool, &wg, &loopWg)

	select {
	case sig := <-sigChan:
		logger.Log.Info("Received termination signal, shutting down...", zap.String("signal", sig.String()))
		cancel()
	case <-ctx.Done():
		logger.Log.Info("Load generation duration finished or context cancelled externally.")
	}

	logger.Log.Info("Waiting for load generation loop to finish submitting tasks...")
	loopWg.Wait()
	logger.Log.Info("Load generation loop finished.")

	logger.Log.Info("Waiting for active publishing worker tasks to complete...")
	wg.Wait()
	logger.Log.Info("All worker tasks finished.")

	logger.Log.Info("Closing NATS connection.")

	logger.Log.Info("Waiting for metrics server to stop...")
	cancel()
	metricsWg.Wait()

	logger.Log.Info("Load generator shutdown complete.")
}

func parseSources(raw string) []model.Source {
	var out []model.Source
	for _, slug := range strings.Split(raw, ",") {
		slug = strings.TrimSpace(slug)
		if slug == "" {
			continue
		}
		source, known := model.KnownSource(slug)
		if !known && slug != string(model.SourceGeneric) {
			logger.Log.Warn("Skipping unknown source", zap.String("source", slug))
			continue
		}
		out = append(out, source)
	}
	return out
}

func newPersonaPool(n int) []*persona {
	pool := make([]*persona, n)
	for i := range pool {
		pool[i] = &persona{
			SubscriberID: fmt.Sprintf("%d", gofakeit.Number(100000000, 999999999)),
			CrmID:        uuid.NewString(),
			CustomerID:   fmt.Sprintf("cus_%s", gofakeit.LetterN(14)),
			Email:        gofakeit.Email(),
			Phone:        fmt.Sprintf("+1555%07d", gofakeit.Number(0, 9999999)),
			FirstName:    gofakeit.FirstName(),
			LastName:     gofakeit.LastName(),
		}
	}
	return pool
}

func startMetricsServer(port int) *http.Server {
	logger.Log.Info("Starting Prometheus metrics server", zap.Int("port", port))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("Failed to start Prometheus metrics server", zap.Error(err))
		}
	}()

	return server
}

// runBatchLoadLoop manages the rate-limited submission of BATCHES to the worker pool.
func runBatchLoadLoop(ctx context.Context, rate int, duration time.Duration, batchSize int, sources []model.Source, tenants []string, personas []*persona, nc jetstream.ClientInterface, pool *ants.PoolWithFunc, wg *sync.WaitGroup, loopWg *sync.WaitGroup) {
	defer loopWg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	durationTimer := time.NewTimer(duration)
	defer durationTimer.Stop()

	messageCounter := 0
	currentBatch := make([]IndividualTaskDetail, 0, batchSize)

	logger.Log.Info("Starting batch load generation loop",
		zap.Int("target_rate_per_sec", rate),
		zap.Duration("duration", duration),
		zap.Int("batch_size", batchSize),
	)

	submitBatch := func(batchToSubmit []IndividualTaskDetail) {
		if len(batchToSubmit) == 0 {
			return
		}
		batchData := BatchTask{
			Tasks:      batchToSubmit,
			NatsClient: nc,
		}
		wg.Add(len(batchToSubmit))
		if err := pool.Invoke(batchData); err != nil {
			logger.Log.Warn("Failed to invoke worker pool for batch", zap.Int("batch_task_count", len(batchToSubmit)), zap.Error(err))
			wg.Add(-len(batchToSubmit))
			for _, taskDetail := range batchToSubmit {
				subject := webhookSubject(taskDetail.Source, taskDetail.TenantID)
				observer.IncEventgenPublishErrors(subject, taskDetail.TenantID)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Load generation loop stopping due to context cancellation. Submitting final partial batch...")
			submitBatch(currentBatch)
			return
		case <-durationTimer.C:
			logger.Log.Info("Load generation loop stopping after specified duration. Submitting final partial batch...")
			submitBatch(currentBatch)
			return
		case <-ticker.C:
			select {
			case <-ctx.Done():
				logger.Log.Debug("Context cancelled during ticker processing, skipping new task addition.")
				return
			default:
			}

			selectedSource := sources[messageCounter%len(sources)]
			selectedTenant := tenants[messageCounter%len(tenants)]
			selectedPersona := personas[rand.Intn(len(personas))]
			messageCounter++

			observer.IncEventgenMessagesAttempted(webhookSubject(selectedSource, selectedTenant), selectedTenant)

			currentBatch = append(currentBatch, IndividualTaskDetail{
				Source:   selectedSource,
				TenantID: selectedTenant,
				Persona:  selectedPersona,
			})

			if len(currentBatch) >= batchSize {
				submitBatch(currentBatch)
				currentBatch = make([]IndividualTaskDetail, 0, batchSize)
			}
		}
	}
}

func webhookSubject(source model.Source, tenantID string) string {
	return fmt.Sprintf("v1.webhooks.%s.%s", source, tenantID)
}

// batchWorkerFunc publishes one batch of generated deliveries.
func batchWorkerFunc(data interface{}, wg *sync.WaitGroup) {
	batchTask := data.(BatchTask)

	for _, taskDetail := range batchTask.Tasks {
		func(td IndividualTaskDetail) {
			defer wg.Done()

			subject := webhookSubject(td.Source, td.TenantID)
			payload := generatePayload(td.Source, td.Persona)

			payloadBytes, err := json.Marshal(payload)
			if err != nil {
				logger.Log.Error("Failed to marshal payload in batch",
					zap.String("subject", subject),
					zap.Error(err))
				observer.IncEventgenPublishErrors(subject, td.TenantID)
				return
			}

			headers := map[string]string{"TenantID": td.TenantID}
			if err := batchTask.NatsClient.Publish(subject, payloadBytes, headers); err != nil {
				logger.Log.Error("Failed to publish delivery in batch", zap.String("subject", subject), zap.Error(err))
				observer.IncEventgenPublishErrors(subject, td.TenantID)
			} else {
				observer.IncEventgenMessagesPublished(subject, td.TenantID)
			}
		}(taskDetail)
	}
}

// generatePayload fakes one upstream webhook body in the shape the source
// adapters expect, carrying the persona's identity keys.
func generatePayload(source model.Source, p *persona) map[string]interface{} {
	switch source {
	case model.SourceManychat:
		trigger := gofakeit.RandomString([]string{"new_subscriber", "lead_qualified", "quiz_completed", "link_clicked", "form_submitted"})
		return map[string]interface{}{
			"event_id":      uuid.NewString(),
			"event_type":    trigger,
			"subscriber_id": p.SubscriberID,
			"subscriber": map[string]interface{}{
				"first_name": p.FirstName,
				"last_name":  p.LastName,
				"email":      p.Email,
				"phone":      p.Phone,
			},
			"funnel_variant": gofakeit.RandomString([]string{"quiz-a", "quiz-b", "vsl"}),
		}
	case model.SourceCrm:
		stage := gofakeit.RandomString([]string{"qualified", "link sent", "meeting booked", "meeting held", "purchased"})
		return map[string]interface{}{
			"webhook_id":     uuid.NewString(),
			"type":           "OpportunityStageUpdate",
			"contact_id":     p.CrmID,
			"email":          p.Email,
			"phone":          p.Phone,
			"first_name":     p.FirstName,
			"last_name":      p.LastName,
			"pipeline_stage": stage,
		}
	case model.SourceStripe:
		return map[string]interface{}{
			"id":   fmt.Sprintf("evt_%s", gofakeit.LetterN(24)),
			"type": "checkout.session.completed",
			"data": map[string]interface{}{
				"object": map[string]interface{}{
					"customer": p.CustomerID,
					"customer_details": map[string]interface{}{
						"email": p.Email,
						"phone": p.Phone,
						"name":  fmt.Sprintf("%s %s", p.FirstName, p.LastName),
					},
					"amount_total": gofakeit.Number(99700, 499700),
					"currency":     "usd",
				},
			},
		}
	case model.SourceDenefits:
		return map[string]interface{}{
			"event_id":   uuid.NewString(),
			"event_type": gofakeit.RandomString([]string{"contract_created", "payment_success", "payment_failed"}),
			"customer": map[string]interface{}{
				"first_name": p.FirstName,
				"last_name":  p.LastName,
				"email":      p.Email,
				"phone":      p.Phone,
			},
		}
	default:
		return map[string]interface{}{
			"event_id":   uuid.NewString(),
			"event_type": string(model.EventContactUpdate),
			"email":      p.Email,
			"phone":      p.Phone,
			"first_name": p.FirstName,
			"last_name":  p.LastName,
		}
	}
}
