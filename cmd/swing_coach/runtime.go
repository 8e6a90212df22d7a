package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"

	"github.com/jonathan/swing-coach/internal/config"
	"github.com/jonathan/swing-coach/internal/db"
	"github.com/jonathan/swing-coach/internal/identity"
	"github.com/jonathan/swing-coach/internal/llm"
	"github.com/jonathan/swing-coach/internal/logger"
	"github.com/jonathan/swing-coach/internal/media"
	"github.com/jonathan/swing-coach/internal/mongostore"
	"github.com/jonathan/swing-coach/internal/objectstore"
	"github.com/jonathan/swing-coach/internal/pipeline"
	"github.com/jonathan/swing-coach/internal/queue"
	"github.com/jonathan/swing-coach/internal/server/middleware"
)

// runtime owns the configuration, logger and every opened resource of one
// command invocation.
type runtime struct {
	cfg     *config.Config
	log     *logrus.Logger
	closers []func()
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	opts := logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File}
	log, err := logger.New(opts)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(opts); err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, log: log}, nil
}

// Close releases resources in reverse order of acquisition.
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func (r *runtime) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

// openStore connects the configured record store backend.
func (r *runtime) openStore(ctx context.Context) (pipeline.Store, error) {
	switch r.cfg.Store.Backend {
	case config.StoreMongo:
		store, err := mongostore.Connect(ctx, r.cfg.Store.MongoURI, r.cfg.Store.MongoDatabase)
		if err != nil {
			return nil, err
		}
		r.onClose(store.Close)
		return store, nil
	case config.StorePostgres:
		database, err := db.Connect(ctx, r.cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		r.onClose(database.Close)
		return database, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", r.cfg.Store.Backend)
	}
}

// openObjects opens the configured object storage backend.
func (r *runtime) openObjects(ctx context.Context) (objectstore.Store, error) {
	switch r.cfg.Objects.Backend {
	case config.ObjectsGCS:
		store, err := objectstore.NewGCSStore(ctx)
		if err != nil {
			return nil, err
		}
		r.onClose(func() { _ = store.Close() })
		return store, nil
	case config.ObjectsLocal:
		return objectstore.NewLocalStore(r.cfg.Objects.LocalDir)
	default:
		return nil, fmt.Errorf("unknown object backend %q", r.cfg.Objects.Backend)
	}
}

// openModel creates the Gemini client. Without an API key it returns nil
// unless required is set.
func (r *runtime) openModel(ctx context.Context, required bool) (llm.Client, error) {
	if r.cfg.Inference.APIKey == "" {
		if required {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
		}
		r.log.Warn("GEMINI_API_KEY not set; chat will answer with fallback replies")
		return nil, nil
	}
	client, err := llm.NewGeminiClient(ctx, llm.DefaultConfig(), r.cfg.Inference.APIKey)
	if err != nil {
		return nil, err
	}
	r.onClose(func() { _ = client.Close() })
	return client, nil
}

// openPubSub creates a Pub/Sub client for the configured project.
// PUBSUB_EMULATOR_HOST is honoured by the client library.
func (r *runtime) openPubSub(ctx context.Context) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, r.cfg.Queue.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	r.onClose(func() { _ = client.Close() })
	return client, nil
}

// identityResolver returns nil when no key set is configured, which makes
// every caller a guest.
func (r *runtime) identityResolver() middleware.IdentityResolver {
	if r.cfg.Identity.KeysURL == "" {
		r.log.Warn("JWKS_URL not set; all callers are treated as guests")
		return nil
	}
	keys := identity.NewKeyCache(&identity.HTTPKeySource{URL: r.cfg.Identity.KeysURL}, r.cfg.Identity.KeyCacheTTL)
	return identity.NewVerifier(keys, identity.Options{
		Issuer:   r.cfg.Identity.Issuer,
		Audience: r.cfg.Identity.Audience,
	}, r.log)
}

func (r *runtime) inferenceStage(store pipeline.Store, objects objectstore.Store, model llm.Client) *pipeline.Inference {
	p := r.cfg.Pipeline
	return pipeline.NewInference(store, objects, model, pipeline.InferenceOptions{
		FrameBudget:      p.FrameBudget,
		LockWindow:       p.LockWindow,
		HistoryLimit:     p.HistoryLimit,
		FetchConcurrency: p.FetchConcurrency,
		Tier:             llm.ParseTier(r.cfg.Inference.ModelTier),
		Timeout:          r.cfg.Inference.Timeout,
		OnProgress:       progressLogger(r.log),
	}, r.log)
}

func (r *runtime) extractionStage(store pipeline.Store, objects objectstore.Store, trigger queue.Publisher) (*pipeline.Extraction, error) {
	extractor, err := media.NewExtractor(r.cfg.Pipeline.FrameRate, r.log)
	if err != nil {
		return nil, err
	}
	return pipeline.NewExtraction(store, objects, extractor, trigger, pipeline.ExtractionOptions{
		FrameBucket:       r.cfg.Objects.FrameBucket,
		UploadConcurrency: r.cfg.Pipeline.FetchConcurrency,
		StaleAfter:        r.cfg.Pipeline.LockWindow,
		OnProgress:        progressLogger(r.log),
	}, r.log), nil
}

func progressLogger(log logrus.FieldLogger) pipeline.ProgressCallback {
	return func(event pipeline.ProgressEvent) {
		log.WithFields(logrus.Fields{"job_id": event.JobID, "stage": event.Stage}).Debug(event.Message)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
