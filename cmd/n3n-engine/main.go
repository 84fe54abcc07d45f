// Command n3n-engine runs the Flow Execution Engine and AI Multi-Agent Flow
// Builder as a single HTTP service: it loads configuration, wires telemetry,
// the Redis-backed KV client, the execution store, the node handler
// registry, the plugin container orchestrator, session isolation, rate
// limiting, and the AI builder's sub-agent stack, then serves internal/
// httpapi's route table. Grounded on the teacher's cmd/demo wiring style
// (sequential construction, log.Fatalf on fatal setup errors) generalised from a
// one-shot CLI run into a long-lived service.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	dockerclient "github.com/docker/docker/client"
	"github.com/redis/go-redis/v9"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"n3n.dev/core/agent"
	"n3n.dev/core/agent/builder"
	"n3n.dev/core/agent/conversation"
	"n3n.dev/core/agent/discovery"
	"n3n.dev/core/agent/intent"
	"n3n.dev/core/agent/llm"
	"n3n.dev/core/agent/llm/anthropic"
	"n3n.dev/core/agent/llm/bedrock"
	"n3n.dev/core/agent/llm/openai"
	"n3n.dev/core/agent/ratelimit"
	"n3n.dev/core/agent/router"
	"n3n.dev/core/agent/session"
	"n3n.dev/core/agent/session/redisstore"
	"n3n.dev/core/agent/supervisor"
	"n3n.dev/core/agent/validator"
	"n3n.dev/core/flow/container"
	dockerorch "n3n.dev/core/flow/container/docker"
	k8sorch "n3n.dev/core/flow/container/kubernetes"
	"n3n.dev/core/flow/engine"
	engineinmem "n3n.dev/core/flow/engine/inmem"
	enginemongo "n3n.dev/core/flow/engine/mongo"
	"n3n.dev/core/flow/event"
	"n3n.dev/core/flow/event/memsink"
	"n3n.dev/core/flow/event/pulsesink"
	"n3n.dev/core/flow/expr"
	"n3n.dev/core/flow/handler"
	"n3n.dev/core/flow/handler/builtin"
	"n3n.dev/core/internal/config"
	"n3n.dev/core/internal/httpapi"
	"n3n.dev/core/internal/kv"
	"n3n.dev/core/internal/telemetry"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("N3N_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("n3n-engine: load config: %v", err)
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()
	tracer := telemetry.NewClueTracer()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("n3n-engine: connect redis at %s: %v", cfg.Redis.Addr, err)
	}
	kvClient, err := kv.New(kv.Options{Redis: redisClient})
	if err != nil {
		log.Fatalf("n3n-engine: build kv client: %v", err)
	}

	sessionStore, err := redisstore.New(kvClient)
	if err != nil {
		log.Fatalf("n3n-engine: build session store: %v", err)
	}
	sessions, err := session.New(session.Options{
		Store:      sessionStore,
		TTL:        cfg.Session.TTL,
		MaxPerUser: cfg.Session.MaxPerUser,
	})
	if err != nil {
		log.Fatalf("n3n-engine: build session isolator: %v", err)
	}

	limiter, err := ratelimit.New(kvClient, ratelimit.Config{
		RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
		RequestWindow:     cfg.RateLimit.RequestWindow,
		BurstMultiplier:   cfg.RateLimit.BurstMultiplier,
		TokensPerWindow:   cfg.RateLimit.TokensPerWindow,
		TokenWindow:       cfg.RateLimit.TokenWindow,
		FailOpen:          cfg.RateLimit.FailOpen,
	})
	if err != nil {
		log.Fatalf("n3n-engine: build rate limiter: %v", err)
	}

	registry := handler.NewRegistry()
	if err := builtin.Register(registry); err != nil {
		log.Fatalf("n3n-engine: register builtin node handlers: %v", err)
	}

	executionStore, err := buildExecutionStore(ctx, cfg)
	if err != nil {
		log.Fatalf("n3n-engine: build execution store: %v", err)
	}

	sink, subscriber := buildEventSink(cfg, redisClient)
	defer sink.Close(ctx)

	credentials := buildCredentialResolver(cfg, logger)

	eng, err := engine.New(engine.Options{
		Handlers:    registry,
		Store:       executionStore,
		Sink:        sink,
		Credentials: credentials,
		Logger:      logger,
		Metrics:     metrics,
		Tracer:      tracer,
	})
	if err != nil {
		log.Fatalf("n3n-engine: build engine: %v", err)
	}

	orchestrator, err := buildOrchestrator(cfg, registry)
	if err != nil {
		logger.Warn(ctx, "plugin container orchestrator unavailable, continuing without it", "error", err.Error())
	}
	_ = orchestrator // held for future plugin install/uninstall routes

	llmClient := buildLLMClient(cfg, logger)

	var summarizer *conversation.Summarizer
	if llmClient != nil {
		summarizer, err = conversation.New(conversation.Options{Client: llmClient, Model: cfg.LLM.Model})
		if err != nil {
			log.Fatalf("n3n-engine: build conversation summarizer: %v", err)
		}
	}

	sup, err := supervisor.New(supervisor.Options{
		Analyzer: intent.New(intent.Options{Client: llmClient, Model: cfg.LLM.Model}),
		Router:   router.New(router.Options{}),
		Agents: []agent.Agent{
			discovery.New(discovery.Options{Client: llmClient, Model: cfg.LLM.Model}),
			builder.New(builder.Options{}),
			validator.New(registry),
		},
	})
	if err != nil {
		log.Fatalf("n3n-engine: build supervisor: %v", err)
	}

	api, err := httpapi.New(httpapi.Options{
		Engine:        eng,
		Store:         executionStore,
		Supervisor:    sup,
		Sessions:      sessions,
		Limiter:       limiter,
		Summarizer:    summarizer,
		Sub:           subscriber,
		Logger:        logger,
		MaxIterations: 10,
	})
	if err != nil {
		log.Fatalf("n3n-engine: build http api: %v", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "n3n-engine listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("n3n-engine: serve: %v", err)
	}
}

func buildExecutionStore(ctx context.Context, cfg *config.Config) (engine.Store, error) {
	switch cfg.Store {
	case "mongo":
		if cfg.Mongo.URI == "" {
			return nil, fmt.Errorf("mongo store selected but N3N_MONGO_URI is empty")
		}
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		coll := client.Database(cfg.Mongo.Database).Collection("executions")
		return enginemongo.New(coll), nil
	default:
		return engineinmem.New(), nil
	}
}

// buildEventSink always fans events out through an in-process memsink (the
// only sink that can serve the HTTP /events SSE endpoint) and, when Redis is
// reachable, also mirrors them onto a Pulse stream so other replicas'
// engines observe the same execution's progress.
func buildEventSink(cfg *config.Config, redisClient *redis.Client) (event.Sink, httpapi.Subscriber) {
	mem := memsink.New()
	pulse, err := pulsesink.New(pulsesink.Options{Redis: redisClient, StreamName: "n3n-events"})
	if err != nil {
		return mem, mem
	}
	return multiSink{mem: mem, pulse: pulse}, mem
}

// multiSink publishes to both the local memsink (SSE fan-out) and the
// Pulse-backed stream (cross-replica durability), closing both on shutdown.
type multiSink struct {
	mem   *memsink.Sink
	pulse *pulsesink.Sink
}

func (s multiSink) Send(ctx context.Context, ev event.Event) error {
	if err := s.mem.Send(ctx, ev); err != nil {
		return err
	}
	return s.pulse.Send(ctx, ev)
}

func (s multiSink) Close(ctx context.Context) error {
	_ = s.pulse.Close(ctx)
	return s.mem.Close(ctx)
}

func buildOrchestrator(cfg *config.Config, registry *handler.Registry) (container.Orchestrator, error) {
	backend := cfg.Container.Backend
	if backend == "auto" || backend == "" {
		backend = string(container.Detect())
	}
	trusted := container.NewTrustedRegistries()

	switch backend {
	case string(container.BackendKubernetes):
		kcfg, err := kubeConfig()
		if err != nil {
			return nil, err
		}
		clientset, err := kubernetes.NewForConfig(kcfg)
		if err != nil {
			return nil, fmt.Errorf("build kubernetes clientset: %w", err)
		}
		return k8sorch.New(k8sorch.Options{Clientset: clientset, Namespace: "n3n-plugins", Trusted: trusted, Registry: registry})
	default:
		cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("build docker client: %w", err)
		}
		return dockerorch.New(dockerorch.Options{Client: cli, Trusted: trusted, Registry: registry})
	}
}

func kubeConfig() (*rest.Config, error) {
	if c, err := rest.InClusterConfig(); err == nil {
		return c, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory for kubeconfig: %w", err)
	}
	return clientcmd.BuildConfigFromFlags("", home+"/.kube/config")
}

func buildLLMClient(cfg *config.Config, logger telemetry.Logger) llm.Client {
	switch cfg.LLM.Provider {
	case "anthropic":
		client, err := anthropic.NewFromAPIKey(cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			logger.Warn(context.Background(), "anthropic client unavailable, AI builder falls back to rule-based matching", "error", err.Error())
			return nil
		}
		return client
	case "openai":
		client, err := openai.NewFromAPIKey(cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			logger.Warn(context.Background(), "openai client unavailable, AI builder falls back to rule-based matching", "error", err.Error())
			return nil
		}
		return client
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.LLM.Region))
		if err != nil {
			logger.Warn(context.Background(), "bedrock config unavailable, AI builder falls back to rule-based matching", "error", err.Error())
			return nil
		}
		runtime := bedrockruntime.NewFromConfig(awsCfg)
		client, err := bedrock.New(bedrock.Options{Runtime: runtime, DefaultModel: cfg.LLM.Model})
		if err != nil {
			logger.Warn(context.Background(), "bedrock client unavailable, AI builder falls back to rule-based matching", "error", err.Error())
			return nil
		}
		return client
	default:
		return nil
	}
}

// buildCredentialResolver decodes cfg's base64 master key into a resolver
// backed by an in-memory credential store. It returns nil when no master key
// is configured, leaving the engine unable to schedule credential-bearing
// nodes rather than running with a guessed key.
func buildCredentialResolver(cfg *config.Config, logger telemetry.Logger) *expr.CredentialResolver {
	if strings.TrimSpace(cfg.Credential.MasterKey) == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(cfg.Credential.MasterKey)
	if err != nil || len(raw) != 32 {
		logger.Warn(context.Background(), "credential master key is not valid base64-encoded 32 bytes, credential resolution disabled")
		return nil
	}
	var key [32]byte
	copy(key[:], raw)
	return expr.NewCredentialResolver(key, expr.MapCredentialStore{})
}
