package cli

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/emoshelf/pkg/archive"
	"github.com/m-mizutani/emoshelf/pkg/classify"
	"github.com/m-mizutani/emoshelf/pkg/interfaces"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/policy"
	"github.com/m-mizutani/emoshelf/pkg/repository"
	"github.com/m-mizutani/emoshelf/pkg/usecase/dispatch"
	"github.com/m-mizutani/emoshelf/pkg/usecase/ingest"
	"github.com/m-mizutani/emoshelf/pkg/utils/imaging"
	"github.com/m-mizutani/emoshelf/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const indexFileName = "emotion_index.json"

var (
	errInvalidConfig = goerr.New("invalid configuration")
)

// config holds configuration values
type config struct {
	// Global
	dataDir      string
	taxonomyPath string
	logLevel     string
	logFormat    string

	// Storage
	bucket            string
	bucketPrefix      string
	firestoreProject  string
	firestoreDatabase string

	// Classification backend
	backend         string
	geminiProject   string
	geminiLocation  string
	geminiModel     string
	geminiAPIKey    string
	ollamaURL       string
	ollamaModel     string
	classifierURL   string
	classifierToken string
	imageModel      string
	textModel       string
	retryAttempts   int64
	retryBackoff    time.Duration

	// Ingestion
	threshold         float64
	normalize         bool
	maxDimension      int64
	jpegQuality       int64
	insecureDowngrade bool
	maxBytes          int64
	ingestTimeout     time.Duration
	policyDir         string

	// Reactive dispatch
	emitProbability float64
	emitDelay       time.Duration
	reactMode       string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Aliases:     []string{"d"},
			Usage:       "Directory of stored images and the index file",
			Value:       filepath.Join("data", "emoshelf"),
			Sources:     cli.EnvVars("EMOSHELF_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.StringFlag{
			Name:        "taxonomy",
			Usage:       "YAML file of emotion categories and synonyms (built-in taxonomy when empty)",
			Sources:     cli.EnvVars("EMOSHELF_TAXONOMY"),
			Destination: &cfg.taxonomyPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("EMOSHELF_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("EMOSHELF_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// storageFlags returns flags selecting cloud storage instead of the data directory
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for images (local data directory when empty)",
			Sources:     cli.EnvVars("EMOSHELF_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "bucket-prefix",
			Usage:       "Object name prefix in the bucket",
			Sources:     cli.EnvVars("EMOSHELF_BUCKET_PREFIX"),
			Destination: &cfg.bucketPrefix,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID of the Firestore index (index file when empty)",
			Sources:     cli.EnvVars("EMOSHELF_FIRESTORE_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("EMOSHELF_FIRESTORE_DATABASE"),
			Destination: &cfg.firestoreDatabase,
		},
	}
}

// backendFlags returns flags for the classification backend with destination config
func backendFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Classification backend (gemini, ollama, classifier)",
			Value:       "gemini",
			Sources:     cli.EnvVars("EMOSHELF_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI",
			Sources:     cli.EnvVars("EMOSHELF_GEMINI_PROJECT", "GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("EMOSHELF_GEMINI_LOCATION", "GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model name",
			Sources:     cli.EnvVars("EMOSHELF_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini Developer API key, used instead of Vertex AI when set",
			Sources:     cli.EnvVars("EMOSHELF_GEMINI_API_KEY", "GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "ollama-url",
			Usage:       "Ollama API endpoint",
			Value:       "http://localhost:11434",
			Sources:     cli.EnvVars("EMOSHELF_OLLAMA_URL"),
			Destination: &cfg.ollamaURL,
		},
		&cli.StringFlag{
			Name:        "ollama-model",
			Usage:       "Ollama vision model",
			Value:       "llava",
			Sources:     cli.EnvVars("EMOSHELF_OLLAMA_MODEL"),
			Destination: &cfg.ollamaModel,
		},
		&cli.StringFlag{
			Name:        "classifier-url",
			Usage:       "Inference API endpoint of the dedicated classifiers",
			Value:       "https://api-inference.huggingface.co",
			Sources:     cli.EnvVars("EMOSHELF_CLASSIFIER_URL"),
			Destination: &cfg.classifierURL,
		},
		&cli.StringFlag{
			Name:        "classifier-token",
			Usage:       "Bearer token of the inference API",
			Sources:     cli.EnvVars("EMOSHELF_CLASSIFIER_TOKEN", "HF_TOKEN"),
			Destination: &cfg.classifierToken,
		},
		&cli.StringFlag{
			Name:        "image-model",
			Usage:       "Image classification model",
			Value:       classify.DefaultImageModel,
			Sources:     cli.EnvVars("EMOSHELF_IMAGE_MODEL"),
			Destination: &cfg.imageModel,
		},
		&cli.StringFlag{
			Name:        "text-model",
			Usage:       "Text classification model (text classification disabled when empty)",
			Value:       classify.DefaultTextModel,
			Sources:     cli.EnvVars("EMOSHELF_TEXT_MODEL"),
			Destination: &cfg.textModel,
		},
		&cli.IntFlag{
			Name:        "retry-attempts",
			Usage:       "Attempts per classification call (1 disables retry)",
			Value:       1,
			Sources:     cli.EnvVars("EMOSHELF_RETRY_ATTEMPTS"),
			Destination: &cfg.retryAttempts,
		},
		&cli.DurationFlag{
			Name:        "retry-backoff",
			Usage:       "Backoff step between classification attempts",
			Value:       time.Second,
			Sources:     cli.EnvVars("EMOSHELF_RETRY_BACKOFF"),
			Destination: &cfg.retryBackoff,
		},
	}
}

// ingestFlags returns flags of the ingestion pipeline with destination config
func ingestFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.FloatFlag{
			Name:        "threshold",
			Usage:       "Minimum classification confidence for admission",
			Value:       ingest.DefaultThreshold,
			Sources:     cli.EnvVars("EMOSHELF_THRESHOLD"),
			Destination: &cfg.threshold,
		},
		&cli.BoolFlag{
			Name:        "normalize",
			Usage:       "Re-encode images as downscaled JPEG before storing",
			Value:       true,
			Sources:     cli.EnvVars("EMOSHELF_NORMALIZE"),
			Destination: &cfg.normalize,
		},
		&cli.IntFlag{
			Name:        "max-dimension",
			Usage:       "Longer edge of normalized images in pixels",
			Value:       imaging.DefaultMaxDimension,
			Sources:     cli.EnvVars("EMOSHELF_MAX_DIMENSION"),
			Destination: &cfg.maxDimension,
		},
		&cli.IntFlag{
			Name:        "jpeg-quality",
			Usage:       "JPEG quality of normalized images",
			Value:       imaging.DefaultJPEGQuality,
			Sources:     cli.EnvVars("EMOSHELF_JPEG_QUALITY"),
			Destination: &cfg.jpegQuality,
		},
		&cli.BoolFlag{
			Name:        "insecure-downgrade",
			Usage:       "Fetch https image URLs over plain http",
			Sources:     cli.EnvVars("EMOSHELF_INSECURE_DOWNGRADE"),
			Destination: &cfg.insecureDowngrade,
		},
		&cli.IntFlag{
			Name:        "max-bytes",
			Usage:       "Maximum size of a downloaded image",
			Value:       adapter.DefaultMaxMediaBytes,
			Sources:     cli.EnvVars("EMOSHELF_MAX_BYTES"),
			Destination: &cfg.maxBytes,
		},
		&cli.DurationFlag{
			Name:        "ingest-timeout",
			Usage:       "Time limit of a single ingestion (0 for none)",
			Value:       time.Minute,
			Sources:     cli.EnvVars("EMOSHELF_INGEST_TIMEOUT"),
			Destination: &cfg.ingestTimeout,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego admission policies (package admission)",
			Sources:     cli.EnvVars("EMOSHELF_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// dispatchFlags returns flags of the reactive dispatcher with destination config
func dispatchFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.FloatFlag{
			Name:        "emit-probability",
			Usage:       "Chance that a response is followed by a stored image",
			Value:       dispatch.DefaultProbability,
			Sources:     cli.EnvVars("EMOSHELF_EMIT_PROBABILITY"),
			Destination: &cfg.emitProbability,
		},
		&cli.DurationFlag{
			Name:        "emit-delay",
			Usage:       "Pause before a reactive image is sent",
			Value:       dispatch.DefaultDelay,
			Sources:     cli.EnvVars("EMOSHELF_EMIT_DELAY"),
			Destination: &cfg.emitDelay,
		},
		&cli.StringFlag{
			Name:        "react-mode",
			Usage:       "How the emotion of a response is found (keyword, classify)",
			Value:       string(dispatch.ModeKeyword),
			Sources:     cli.EnvVars("EMOSHELF_REACT_MODE"),
			Destination: &cfg.reactMode,
		},
	}
}

// setup attaches the configured logger to ctx
func (cfg *config) setup(ctx context.Context) context.Context {
	logger := logging.NewWithFormat(cfg.logLevel, logging.Format(cfg.logFormat), os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newTaxonomy loads the configured taxonomy
func (cfg *config) newTaxonomy() (*model.Taxonomy, error) {
	if cfg.taxonomyPath == "" {
		return model.DefaultTaxonomy(), nil
	}
	tx, err := model.LoadTaxonomy(cfg.taxonomyPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load taxonomy")
	}
	return tx, nil
}

// newBlobStore creates the image store
func (cfg *config) newBlobStore(ctx context.Context) (interfaces.BlobStore, error) {
	if cfg.bucket != "" {
		store, err := adapter.NewCloudStorage(ctx, cfg.bucket, cfg.bucketPrefix)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create cloud storage")
		}
		return store, nil
	}

	if cfg.dataDir == "" {
		return nil, goerr.Wrap(errInvalidConfig, "data-dir is required")
	}
	store, err := adapter.NewLocalStorage(cfg.dataDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create local storage")
	}
	return store, nil
}

// newRepository creates the index repository. The returned function releases it.
func (cfg *config) newRepository(ctx context.Context) (interfaces.IndexRepository, func(), error) {
	if cfg.firestoreProject != "" {
		repo, err := repository.New(ctx, cfg.firestoreProject, cfg.firestoreDatabase)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create firestore repository")
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				logging.From(ctx).Warn("failed to close firestore", "error", err)
			}
		}, nil
	}

	return repository.NewFile(filepath.Join(cfg.dataDir, indexFileName)), func() {}, nil
}

// newArchive opens the archive. The returned function releases its resources.
func (cfg *config) newArchive(ctx context.Context, tx *model.Taxonomy) (*archive.Archive, func(), error) {
	blobs, err := cfg.newBlobStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	repo, closer, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, nil, err
	}

	a, err := archive.New(ctx, tx, blobs, repo)
	if err != nil {
		closer()
		return nil, nil, goerr.Wrap(err, "failed to open archive")
	}
	return a, closer, nil
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	opts := []adapter.GeminiOption{adapter.WithGenerativeModel(cfg.geminiModel)}

	if cfg.geminiAPIKey != "" {
		return adapter.NewGeminiWithAPIKey(ctx, cfg.geminiAPIKey, opts...)
	}
	if cfg.geminiProject == "" {
		return nil, goerr.Wrap(errInvalidConfig, "gemini-project or gemini-api-key is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.Wrap(errInvalidConfig, "gemini-location is required")
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newBackend creates the configured classification backend
func (cfg *config) newBackend(ctx context.Context) (classify.Backend, error) {
	var backend classify.Backend
	switch cfg.backend {
	case "gemini":
		gemini, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, err
		}
		backend = classify.NewGemini(gemini)

	case "ollama":
		backend = classify.NewOllama(adapter.NewOllama(cfg.ollamaURL, cfg.ollamaModel))

	case "classifier":
		client := adapter.NewInference(cfg.classifierURL, adapter.WithInferenceToken(cfg.classifierToken))
		backend = classify.NewDedicated(client, cfg.imageModel, cfg.textModel)

	default:
		return nil, goerr.Wrap(errInvalidConfig, "unknown backend",
			goerr.V("backend", cfg.backend),
			goerr.V("supported", []string{"gemini", "ollama", "classifier"}))
	}

	return classify.WithRetry(backend, int(cfg.retryAttempts), cfg.retryBackoff), nil
}

// newClassifier creates the classification port
func (cfg *config) newClassifier(ctx context.Context, tx *model.Taxonomy) (*classify.Port, error) {
	backend, err := cfg.newBackend(ctx)
	if err != nil {
		return nil, err
	}
	return classify.New(backend, tx), nil
}

// newIngest creates the ingestion pipeline
func (cfg *config) newIngest(ctx context.Context, tx *model.Taxonomy, store ingest.Store, classifier classify.Classifier) (*ingest.UseCase, error) {
	if cfg.threshold < 0 || cfg.threshold > 1 {
		return nil, goerr.Wrap(errInvalidConfig, "threshold must be within [0, 1]", goerr.V("threshold", cfg.threshold))
	}

	fetcher := adapter.NewFetcher(
		adapter.WithInsecureDowngrade(cfg.insecureDowngrade),
		adapter.WithMaxBytes(cfg.maxBytes),
	)

	opts := []ingest.Option{
		ingest.WithThreshold(cfg.threshold),
		ingest.WithFetcher(fetcher),
		ingest.WithTimeout(cfg.ingestTimeout),
		ingest.WithNormalize(cfg.normalize, imaging.Options{
			MaxDimension: int(cfg.maxDimension),
			Quality:      int(cfg.jpegQuality),
			KeepAnimated: true,
		}),
	}

	if cfg.policyDir != "" {
		p, err := policy.Load(ctx, cfg.policyDir)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load admission policy")
		}
		if p != nil {
			opts = append(opts, ingest.WithPolicy(p))
		}
	}

	return ingest.New(tx, store, classifier, opts...), nil
}

// newDispatcher creates the reactive dispatcher. classifier is only used in classify mode.
func (cfg *config) newDispatcher(tx *model.Taxonomy, library dispatch.Library, classifier classify.Classifier) (*dispatch.Dispatcher, error) {
	mode, err := dispatch.ParseMode(cfg.reactMode)
	if err != nil {
		return nil, err
	}

	opts := []dispatch.Option{
		dispatch.WithProbability(cfg.emitProbability),
		dispatch.WithDelay(cfg.emitDelay),
	}
	if mode == dispatch.ModeClassify {
		opts = append(opts, dispatch.WithClassifier(classifier))
	}
	return dispatch.New(tx, library, opts...)
}

// openArchive loads the taxonomy and opens the archive over it
func (cfg *config) openArchive(ctx context.Context) (*model.Taxonomy, *archive.Archive, func(), error) {
	tx, err := cfg.newTaxonomy()
	if err != nil {
		return nil, nil, nil, err
	}

	a, closer, err := cfg.newArchive(ctx, tx)
	if err != nil {
		return nil, nil, nil, err
	}
	return tx, a, closer, nil
}
