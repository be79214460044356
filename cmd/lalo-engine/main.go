// Command lalo-engine wires C1-C8 together into a local demo driver that
// exercises handler.Handle once per invocation, grounded on the teacher's
// examples/agent-with-orchestration/main.go (fail-fast config validation,
// ordered construction, graceful shutdown of background workers) but
// terminating in a single CLI call rather than an HTTP listener: spec §1's
// Non-goals exclude a new HTTP API surface, so this binary is a driver, not
// a server.
//
// Usage:
//
//	lalo-engine -request "design a deployment pipeline for the billing service" -user alice -permissions web_access,file_access
//
// Environment Variables:
//
//	LALO_POSTGRES_DSN        - Postgres connection string (read by core.DefaultConfig)
//	LALO_REDIS_ADDR          - Redis address for backpressure/idempotence (read by core.DefaultConfig)
//	OPENAI_API_KEY           - enables the OpenAI inference provider
//	ANTHROPIC_API_KEY        - enables the Anthropic inference provider
//	AWS_REGION               - enables the Bedrock inference provider
//	LOCAL_MODEL_URL          - enables the Local inference provider (e.g. an Ollama endpoint)
//	FILE_TOOL_ROOT           - sandbox root for the filesystem tool
//	IMAGE_STORAGE_PATH       - directory generated images are saved under (requires OPENAI_API_KEY)
//	SEARCH_PROVIDER          - web-search backend (default: duckduckgo)
//	TAVILY_API_KEY           - required when SEARCH_PROVIDER=tavily
//	SERPAPI_API_KEY          - required when SEARCH_PROVIDER=serpapi
//	TYPESENSE_URL            - enables the RAG tool's Typesense-backed vector store
//	TYPESENSE_API_KEY        - Typesense API key
//	OTEL_EXPORTER_OTLP_ENDPOINT - OpenTelemetry collector endpoint (stdout exporter if unset)
//	TEMPORAL_HOST_PORT       - Temporal frontend address (default: localhost:7233)
//	TEMPORAL_TASK_QUEUE      - overrides core.CoreConfig.Workflow.TaskQueue
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/handler"
	"github.com/lalo-ai/lalocore/inference"
	"github.com/lalo-ai/lalocore/inference/providers"
	"github.com/lalo-ai/lalocore/orchestrator"
	"github.com/lalo-ai/lalocore/planner"
	"github.com/lalo-ai/lalocore/router"
	"github.com/lalo-ai/lalocore/scorer"
	"github.com/lalo-ai/lalocore/store"
	"github.com/lalo-ai/lalocore/telemetry"
	"github.com/lalo-ai/lalocore/tools"
	"github.com/lalo-ai/lalocore/tools/codeexec"
	"github.com/lalo-ai/lalocore/tools/database"
	"github.com/lalo-ai/lalocore/tools/filesystem"
	"github.com/lalo-ai/lalocore/tools/httpapi"
	"github.com/lalo-ai/lalocore/tools/image"
	"github.com/lalo-ai/lalocore/tools/rag"
	"github.com/lalo-ai/lalocore/tools/websearch"
	lworkflow "github.com/lalo-ai/lalocore/workflow"
)

func main() {
	startupStart := time.Now()

	mode := flag.String("mode", "request", "driver mode: \"request\" issues a single handle_request call and exits; \"worker\" runs the C7 Temporal worker until interrupted")
	requestText := flag.String("request", "", "request text to hand to handle_request (mode=request)")
	userID := flag.String("user", "cli-user", "principal user id")
	permissionsFlag := flag.String("permissions", "", "comma-separated permissions granted to the principal")
	modelsFlag := flag.String("models", "", "comma-separated models available for this request")
	flag.Parse()

	if *mode == "request" && strings.TrimSpace(*requestText) == "" {
		log.Fatal("missing required -request flag for mode=request")
	}
	if *mode != "request" && *mode != "worker" {
		log.Fatalf("unknown mode %q: must be \"request\" or \"worker\"", *mode)
	}

	cfg, err := core.DefaultConfig(core.WithName("lalo-engine"))
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	logger := core.NewProductionLogger(cfg.Logging, cfg.Name)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    cfg.Name,
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MetricsEnabled: true,
	})
	if err != nil {
		logger.Warn("telemetry init failed, continuing without it", map[string]interface{}{"error": err.Error()})
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	tel := &telemetry.Telemetry{}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}()

	gateway := buildGateway(cfg, logger)
	registry := buildToolRegistry(cfg, logger)
	executor := tools.NewExecutor(registry, logger)
	sc := scorer.New(gateway, scorer.WithModel(cfg.Inference.ScorerModel), scorer.WithLogger(logger))
	pl := planner.New(gateway, planner.WithModel(cfg.Inference.PlannerModel), planner.WithLogger(logger))
	rt := router.New(gateway, router.WithModel(cfg.Inference.RouterModel), router.WithLogger(logger))
	orch := orchestrator.New(gateway, executor, sc, pl,
		orchestrator.WithMaxFallbackAttempts(cfg.Resilience.MaxFallbackAttempts),
		orchestrator.WithLogger(logger),
	)

	handlerOpts := []handler.Option{handler.WithLogger(logger), handler.WithTelemetry(tel)}

	db, err := store.Open(context.Background(), store.Config{DSN: cfg.Persistence.PostgresDSN}, logger)
	if err != nil {
		logger.Warn("postgres unavailable, request will not be persisted", map[string]interface{}{"error": err.Error()})
	} else {
		defer db.Close()
		if err := db.EnsureSchema(context.Background()); err != nil {
			logger.Warn("schema migration failed", map[string]interface{}{"error": err.Error()})
		}
		handlerOpts = append(handlerOpts, handler.WithStore(db))
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Persistence.RedisAddr, DB: cfg.Persistence.RedisDB})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn("redis unavailable, backpressure limiting disabled", map[string]interface{}{"error": err.Error()})
	} else {
		bp := store.NewBackpressure(redisClient, cfg.Resilience.MaxInFlightPerPrincipal, cfg.Workflow.ExecutingTimeout, logger)
		handlerOpts = append(handlerOpts, handler.WithBackpressure(bp))
	}

	h := handler.New(rt, orch, handlerOpts...)

	if *mode == "worker" {
		runWorkerMode(cfg, gateway, sc, pl, orch, logger)
		return
	}

	principal := core.Principal{UserID: *userID, Permissions: map[string]struct{}{}}
	for _, p := range splitNonEmpty(*permissionsFlag) {
		principal.Permissions[p] = struct{}{}
	}
	availableModels := splitNonEmpty(*modelsFlag)

	logger.Info("handling request", map[string]interface{}{
		"user_id":    principal.UserID,
		"startup_ms": time.Since(startupStart).Milliseconds(),
	})

	resp, err := h.Handle(context.Background(), *requestText, principal, availableModels, nil, false)
	if err != nil {
		log.Fatalf("handle_request returned an unexpected error: %v", err)
	}

	encoded, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		log.Fatalf("failed to encode response: %v", err)
	}
	os.Stdout.Write(encoded)
	os.Stdout.Write([]byte("\n"))

	if resp.Status == handler.StatusFailed {
		os.Exit(1)
	}
}

// runWorkerMode starts the C7 Temporal worker and blocks until interrupted,
// for a deployment that separates the request-issuing CLI (mode=request)
// from the long-running process that actually executes
// human-in-the-loop workflow sessions.
func runWorkerMode(cfg *core.CoreConfig, gateway *inference.Gateway, sc *scorer.Scorer, pl *planner.Planner, orch *orchestrator.Orchestrator, logger core.Logger) {
	stopWorker := startWorkflowWorker(cfg, gateway, sc, pl, orch, logger)
	if stopWorker == nil {
		log.Fatal("temporal frontend unreachable; cannot run in worker mode")
	}
	defer stopWorker()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	logger.Info("workflow worker running", map[string]interface{}{"task_queue": cfg.Workflow.TaskQueue})
	<-sigChan
	logger.Info("workflow worker shutting down", nil)
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// buildGateway registers every inference provider whose credentials are
// present in the environment. A deployment with no provider configured
// still runs: the router and scorer fall back to their heuristic paths
// (spec §4.1/§4.3's degradation contracts).
func buildGateway(cfg *core.CoreConfig, logger core.Logger) *inference.Gateway {
	var provs []inference.Provider

	models := []string{cfg.Inference.RouterModel, cfg.Inference.ScorerModel, cfg.Inference.PlannerModel}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		provs = append(provs, providers.NewOpenAI(key, models))
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		provs = append(provs, providers.NewAnthropic(key, models))
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		bedrock, err := providers.NewBedrock(context.Background(), region, models)
		if err != nil {
			logger.Warn("bedrock provider init failed", map[string]interface{}{"error": err.Error()})
		} else {
			provs = append(provs, bedrock)
		}
	}
	if baseURL := os.Getenv("LOCAL_MODEL_URL"); baseURL != "" {
		provs = append(provs, providers.NewLocal(baseURL, models))
	}

	if len(provs) == 0 {
		logger.Warn("no inference providers configured; router/scorer/planner will run in heuristic/degraded mode", nil)
	}
	return inference.NewGateway(provs)
}

// buildToolRegistry registers the seven tool categories spec §4.2 names,
// each gated behind the permission the teacher's capability model uses:
// one required permission string per tool, checked any-of at invocation
// (tools.Executor.Invoke).
func buildToolRegistry(cfg *core.CoreConfig, logger core.Logger) *tools.Registry {
	registry := tools.NewRegistry(logger)

	fsRoot := cfg.Tools.FileToolRoot
	if v := os.Getenv("FILE_TOOL_ROOT"); v != "" {
		fsRoot = v
	}
	if fsTool, err := filesystem.New(fsRoot, cfg.Tools.FileToolMaxBytes); err != nil {
		logger.Warn("filesystem tool disabled", map[string]interface{}{"error": err.Error()})
	} else if err := registry.Register(fsTool, "file_access"); err != nil {
		logger.Warn("failed to register filesystem tool", map[string]interface{}{"error": err.Error()})
	}

	memoryBytes, err := units.RAMInBytes(cfg.Tools.CodeExecMemoryLimit)
	if err != nil {
		logger.Warn("invalid code_exec_memory_limit, falling back to 256m", map[string]interface{}{"value": cfg.Tools.CodeExecMemoryLimit, "error": err.Error()})
		memoryBytes = 256 * 1024 * 1024
	}
	const dockerCPUPeriod = 100000 // microseconds, docker's default CFS period
	codeTool := codeexec.New(codeexec.Config{
		Timeout:     cfg.Tools.CodeExecTimeout,
		MemoryBytes: memoryBytes,
		CPUQuota:    int64(cfg.Tools.CodeExecCPUQuota * dockerCPUPeriod),
	})
	if err := registry.Register(codeTool, "code_execution"); err != nil {
		logger.Warn("failed to register code-exec tool", map[string]interface{}{"error": err.Error()})
	}

	searchProvider := cfg.Tools.SearchProvider
	if v := os.Getenv("SEARCH_PROVIDER"); v != "" {
		searchProvider = v
	}
	webTool := websearch.New(searchProvider, os.Getenv("TAVILY_API_KEY"), os.Getenv("SERPAPI_API_KEY"))
	if err := registry.Register(webTool, "web_access"); err != nil {
		logger.Warn("failed to register web-search tool", map[string]interface{}{"error": err.Error()})
	}

	httpTool := httpapi.New(cfg.Tools.DBToolTimeout)
	if err := registry.Register(httpTool, "http_access"); err != nil {
		logger.Warn("failed to register http-api tool", map[string]interface{}{"error": err.Error()})
	}

	if typesenseURL := os.Getenv("TYPESENSE_URL"); typesenseURL != "" {
		vectorStore, err := rag.NewTypesenseStore(context.Background(), typesenseURL, os.Getenv("TYPESENSE_API_KEY"), "lalo_documents")
		if err != nil {
			logger.Warn("rag tool disabled: typesense unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			ragTool := rag.New(vectorStore, 512, 64, cfg.Name)
			if err := registry.Register(ragTool, "rag_access"); err != nil {
				logger.Warn("failed to register rag tool", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		imageStoragePath := cfg.Tools.ImageStoragePath
		if v := os.Getenv("IMAGE_STORAGE_PATH"); v != "" {
			imageStoragePath = v
		}
		imageTool := image.New(key, imageStoragePath, "dall-e-3")
		if err := registry.Register(imageTool, "image_generation"); err != nil {
			logger.Warn("failed to register image tool", map[string]interface{}{"error": err.Error()})
		}
	}

	if dsn := cfg.Persistence.PostgresDSN; dsn != "" {
		dbPool, err := pgxpool.New(context.Background(), dsn)
		if err != nil {
			logger.Warn("database tool disabled", map[string]interface{}{"error": err.Error()})
		} else {
			dbTool := database.New(dbPool, cfg.Tools.DBToolRowLimit, cfg.Tools.DBToolTimeout)
			if err := registry.Register(dbTool, "database_access"); err != nil {
				logger.Warn("failed to register database tool", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	return registry
}

// startWorkflowWorker registers the Temporal worker that runs C7's human-
// in-the-loop workflow (spec §4.7). A deployment without a reachable
// Temporal frontend still runs the synchronous C8 path; only the
// approval-gated flow is unavailable, since this driver only ever starts
// the worker, never a client call into it (no wire protocol is defined for
// triggering one from this binary, per spec §1's non-goals).
func startWorkflowWorker(cfg *core.CoreConfig, gateway *inference.Gateway, sc *scorer.Scorer, pl *planner.Planner, orch *orchestrator.Orchestrator, logger core.Logger) func() {
	hostPort := "localhost:7233"
	if v := os.Getenv("TEMPORAL_HOST_PORT"); v != "" {
		hostPort = v
	}
	taskQueue := cfg.Workflow.TaskQueue
	if v := os.Getenv("TEMPORAL_TASK_QUEUE"); v != "" {
		taskQueue = v
	}

	temporalClient, err := client.Dial(client.Options{HostPort: hostPort})
	if err != nil {
		logger.Warn("temporal unavailable, human-in-the-loop workflows disabled", map[string]interface{}{"error": err.Error()})
		return nil
	}

	activities := &lworkflow.Activities{
		Gateway:      gateway,
		Planner:      pl,
		Orchestrator: orch,
		Scorer:       sc,
		Logger:       logger,
	}

	w := worker.New(temporalClient, taskQueue, worker.Options{})
	w.RegisterWorkflow(lworkflow.Run)
	w.RegisterActivity(activities)

	go func() {
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Error("temporal worker stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	return func() {
		w.Stop()
		temporalClient.Close()
	}
}
