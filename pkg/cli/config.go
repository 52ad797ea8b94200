package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/fennec/pkg/adapter"
	"github.com/m-mizutani/fennec/pkg/episodic"
	"github.com/m-mizutani/fennec/pkg/similarity"
	"github.com/m-mizutani/fennec/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const firestoreCollection = "fennec"

// config holds configuration values
type config struct {
	// Storage
	backend  string
	dataDir  string
	bucket   string
	prefix   string
	project  string
	database string

	// Logging
	logLevel  string
	logFormat string

	// LLM
	llm             string
	anthropicAPIKey string
	claudeModel     string
	geminiProject   string
	geminiLocation  string

	// Search
	search            string
	braveAPIKey       string
	maxResults        int64
	searchConcurrency int64

	// Memory
	embedder      string
	dimensions    int64
	memoryBackend string
	cacheSize     int64

	gemini *adapter.GeminiClient
}

// globalFlags returns storage and logging flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Document storage backend (file, gcs, firestore)",
			Value:       "file",
			Sources:     cli.EnvVars("FENNEC_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Directory of the file backend",
			Value:       ".",
			Sources:     cli.EnvVars("FENNEC_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket of the gcs backend",
			Sources:     cli.EnvVars("FENNEC_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Object name prefix of the gcs backend",
			Sources:     cli.EnvVars("FENNEC_PREFIX"),
			Destination: &cfg.prefix,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("FENNEC_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FENNEC_DATABASE", "FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("FENNEC_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("FENNEC_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "LLM used for synthesis (none, gemini, claude)",
			Value:       "none",
			Sources:     cli.EnvVars("FENNEC_LLM"),
			Destination: &cfg.llm,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model name",
			Sources:     cli.EnvVars("FENNEC_CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
	}
}

// searchFlags returns flags for the web search provider with destination config
func searchFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "search",
			Usage:       "Web search provider (duckduckgo, brave)",
			Value:       "duckduckgo",
			Sources:     cli.EnvVars("FENNEC_SEARCH"),
			Destination: &cfg.search,
		},
		&cli.StringFlag{
			Name:        "brave-api-key",
			Usage:       "Brave Search API key",
			Sources:     cli.EnvVars("BRAVE_API_KEY"),
			Destination: &cfg.braveAPIKey,
		},
		&cli.IntFlag{
			Name:        "max-results",
			Usage:       "Search results per search subtask",
			Value:       5,
			Sources:     cli.EnvVars("FENNEC_MAX_RESULTS"),
			Destination: &cfg.maxResults,
		},
		&cli.IntFlag{
			Name:        "search-concurrency",
			Usage:       "Number of search subtasks run at once",
			Value:       1,
			Sources:     cli.EnvVars("FENNEC_SEARCH_CONCURRENCY"),
			Destination: &cfg.searchConcurrency,
		},
	}
}

// memoryFlags returns flags for the similarity memory with destination config
func memoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Text embedder (hash, gemini)",
			Value:       "hash",
			Sources:     cli.EnvVars("FENNEC_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.IntFlag{
			Name:        "dimensions",
			Usage:       "Embedding dimension",
			Value:       similarity.DefaultDimension,
			Sources:     cli.EnvVars("FENNEC_DIMENSIONS"),
			Destination: &cfg.dimensions,
		},
		&cli.StringFlag{
			Name:        "memory-backend",
			Usage:       "Similarity search backend (linear, chromem)",
			Value:       "linear",
			Sources:     cli.EnvVars("FENNEC_MEMORY_BACKEND"),
			Destination: &cfg.memoryBackend,
		},
		&cli.IntFlag{
			Name:        "embedding-cache",
			Usage:       "Number of embeddings kept in the in-process cache (0 disables it)",
			Value:       1024,
			Sources:     cli.EnvVars("FENNEC_EMBEDDING_CACHE"),
			Destination: &cfg.cacheSize,
		},
	}
}

// setupLogger installs the configured logger as default and into ctx
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.NewWithFormat(cfg.logLevel, logging.Format(cfg.logFormat), os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newStorage creates the document storage holding both stores and reports
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	switch cfg.backend {
	case "file", "":
		if cfg.dataDir == "" {
			return nil, goerr.New("data-dir is required for file backend")
		}
		return adapter.NewFileStorage(cfg.dataDir), nil

	case "gcs":
		if cfg.bucket == "" {
			return nil, goerr.New("bucket is required for gcs backend")
		}
		storage, err := adapter.NewCloudStorage(ctx, cfg.bucket, cfg.prefix)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return storage, nil

	case "firestore":
		if cfg.project == "" {
			return nil, goerr.New("project is required for firestore backend")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required for firestore backend")
		}
		storage, err := adapter.NewFirestoreStorage(ctx, cfg.project, cfg.database, firestoreCollection)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return storage, nil

	default:
		return nil, goerr.New("unsupported backend",
			goerr.V("backend", cfg.backend),
			goerr.V("supported", []string{"file", "gcs", "firestore"}))
	}
}

// newLog opens the episodic log
func (cfg *config) newLog(ctx context.Context, storage adapter.Storage) (*episodic.Log, error) {
	log, err := episodic.Open(ctx, storage)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open episodic log")
	}
	return log, nil
}

// newGemini creates the Gemini client once and shares it between LLM and embedder
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.gemini != nil {
		return cfg.gemini, nil
	}
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	gemini, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Gemini client")
	}
	cfg.gemini = gemini
	return gemini, nil
}

// newLLM returns nil when no LLM is configured
func (cfg *config) newLLM(ctx context.Context) (adapter.LLM, error) {
	switch cfg.llm {
	case "none", "":
		return nil, nil

	case "claude":
		if cfg.anthropicAPIKey == "" {
			return nil, goerr.New("anthropic-api-key is required")
		}
		var opts []adapter.ClaudeOption
		if cfg.claudeModel != "" {
			opts = append(opts, adapter.WithClaudeModel(cfg.claudeModel))
		}
		return adapter.NewClaude(cfg.anthropicAPIKey, opts...), nil

	case "gemini":
		gemini, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, err
		}
		return gemini, nil

	default:
		return nil, goerr.New("unsupported llm",
			goerr.V("llm", cfg.llm),
			goerr.V("supported", []string{"none", "gemini", "claude"}))
	}
}

// newSearch creates the web search provider
func (cfg *config) newSearch() (adapter.SearchProvider, error) {
	switch cfg.search {
	case "duckduckgo", "":
		return adapter.NewDuckDuckGo(), nil

	case "brave":
		if cfg.braveAPIKey == "" {
			return nil, goerr.New("brave-api-key is required")
		}
		return adapter.NewBrave(cfg.braveAPIKey), nil

	default:
		return nil, goerr.New("unsupported search provider",
			goerr.V("search", cfg.search),
			goerr.V("supported", []string{"duckduckgo", "brave"}))
	}
}

// newEmbedder creates the text embedder. The returned cleanup releases the
// embedding cache and must be called when the embedder is no longer used.
func (cfg *config) newEmbedder(ctx context.Context) (similarity.Embedder, func(), error) {
	if cfg.dimensions <= 0 {
		return nil, nil, goerr.New("dimensions must be positive", goerr.V("dimensions", cfg.dimensions))
	}

	var embedder similarity.Embedder
	switch cfg.embedder {
	case "hash", "":
		embedder = similarity.NewHashEmbedder(int(cfg.dimensions))

	case "gemini":
		gemini, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, nil, err
		}
		embedder = similarity.NewGeminiEmbedder(gemini, int(cfg.dimensions))

	default:
		return nil, nil, goerr.New("unsupported embedder",
			goerr.V("embedder", cfg.embedder),
			goerr.V("supported", []string{"hash", "gemini"}))
	}

	if cfg.cacheSize <= 0 {
		return embedder, func() {}, nil
	}

	cached, err := similarity.NewCachedEmbedder(embedder, cfg.cacheSize)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create embedding cache")
	}
	return cached, cached.Close, nil
}

// newMemory opens the similarity store. The returned cleanup must be called
// when the store is no longer used.
func (cfg *config) newMemory(ctx context.Context, storage adapter.Storage) (*similarity.Store, func(), error) {
	embedder, cleanup, err := cfg.newEmbedder(ctx)
	if err != nil {
		return nil, nil, err
	}

	opts := []similarity.Option{similarity.WithEmbedder(embedder)}
	switch cfg.memoryBackend {
	case "linear", "":
	case "chromem":
		backend, err := similarity.NewChromemBackend()
		if err != nil {
			cleanup()
			return nil, nil, goerr.Wrap(err, "failed to create chromem backend")
		}
		opts = append(opts, similarity.WithBackend(backend))
	default:
		cleanup()
		return nil, nil, goerr.New("unsupported memory backend",
			goerr.V("memory_backend", cfg.memoryBackend),
			goerr.V("supported", []string{"linear", "chromem"}))
	}

	memory, err := similarity.Open(ctx, storage, opts...)
	if err != nil {
		cleanup()
		return nil, nil, goerr.Wrap(err, "failed to open similarity memory")
	}
	return memory, cleanup, nil
}
