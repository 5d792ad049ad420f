package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/maincase/mdesign-backend/internal/adapter/repo"
	"github.com/maincase/mdesign-backend/internal/domain"
	"github.com/maincase/mdesign-backend/internal/http/handlers"
	httpapi "github.com/maincase/mdesign-backend/internal/http/httpapi"
	"github.com/maincase/mdesign-backend/internal/infra"
	"github.com/maincase/mdesign-backend/internal/infra/geoip"
	"github.com/maincase/mdesign-backend/internal/pipeline"
	"github.com/maincase/mdesign-backend/internal/predict"
	"github.com/maincase/mdesign-backend/internal/products"
	"github.com/maincase/mdesign-backend/internal/storage"
	"github.com/maincase/mdesign-backend/internal/turnstile"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	interiors := repo.NewInteriorRepository(dbpool)
	if err := interiors.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Object store: GCS in production, local filesystem for development.
	var (
		store     domain.ObjectStore
		staticDir string
	)
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init gcs store")
		}
		defer gcs.Close()
		store = gcs
	} else {
		fs, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init file store")
		}
		store = fs
		staticDir = cfg.StoragePath
		logger.Warn().Str("path", cfg.StoragePath).Msg("using local filesystem storage")
	}

	params := predict.GenerationParams{
		Prompt:            cfg.Prompt,
		NegativePrompt:    cfg.NegativePrompt,
		InferenceSteps:    cfg.InferenceSteps,
		InferenceStrength: cfg.InferenceStrength,
		GuidanceScale:     cfg.GuidanceScale,
		NumRenders:        cfg.NumRenders,
		Seed:              cfg.GeneratorSeed,
	}

	// Predictor selection: Replicate when a token is configured, otherwise
	// the self-hosted endpoints.
	var (
		diffusion predict.DiffusionPredictor
		detector  predict.ObjectDetector
		fetcher   predict.OutputFetcher
		provider  domain.Provider
	)
	if cfg.ReplicateAPIToken != "" {
		client := predict.NewReplicateClient(cfg.ReplicateBaseURL, cfg.ReplicateAPIToken, logger)
		webhookURL := cfg.WebhookBaseURL + "/api/interior/create/callback"
		diffusion = predict.NewReplicateDiffusion(client, cfg.ReplicateDiffusionVersion, webhookURL, params)
		detector = predict.NewReplicateDetector(client, cfg.ReplicateDetectionVersion)
		fetcher = client
		provider = domain.ProviderReplicate
	} else {
		direct := predict.NewDirectPredictor(predict.DirectConfig{
			DiffusionURL: cfg.DiffusionURL,
			DetectionURL: cfg.DetectionURL,
			Params:       params,
			Timeout:      cfg.PredictorTimeout,
		}, logger)
		diffusion = direct
		detector = direct
		provider = domain.ProviderMDesign
	}

	var matcher products.Matcher
	if cfg.VisionProductSet != "" {
		vm, err := products.NewVisionMatcher(ctx, products.Config{
			ProductSet:      cfg.VisionProductSet,
			ProductCategory: cfg.VisionProductCategory,
			CredentialsFile: cfg.GCSCredentialsFile,
			Limit:           cfg.ProductMatchLimit,
			MinScore:        cfg.ProductMatchMinScore,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init product matcher")
		}
		defer vm.Close()
		matcher = vm
	}

	weights := pipeline.Weights{
		Create:          cfg.ProgressCreate,
		Upload:          cfg.ProgressUpload,
		Diffusion:       cfg.ProgressDiffusion,
		Refine:          cfg.ProgressRefine,
		StorePerRender:  cfg.ProgressStore,
		DetectPerRender: cfg.ProgressDetect,
		Finalize:        cfg.ProgressFinalize,
	}
	if err := weights.Validate(cfg.NumRenders); err != nil {
		logger.Fatal().Err(err).Msg("invalid progress weights")
	}

	orchestrator := pipeline.NewOrchestrator(pipeline.Config{
		Repo:          interiors,
		Store:         store,
		Diffusion:     diffusion,
		Detector:      detector,
		Fetcher:       fetcher,
		Matcher:       matcher,
		MatchMinScore: cfg.ProductMatchMinScore,
		Registry:      pipeline.NewRegistry(),
		Queue:         pipeline.NewCallbackQueue(cfg.CallbackSpacing),
		Weights:       weights,
		Refine:        cfg.RefinementEnabled,
		NumRenders:    cfg.NumRenders,
		Provider:      provider,
		Timeout:       cfg.PredictorTimeout,
		Log:           logger,
	})

	verifier := turnstile.New(cfg.TurnstileSecret, cfg.TurnstileVerifyURL)
	if !verifier.Enabled() {
		logger.Warn().Msg("captcha verification disabled")
	}

	countries, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}

	app := handlers.NewApp(logger, cfg, interiors, store, orchestrator, verifier)
	router := httpapi.NewRouter(app, countries, staticDir)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != os.ErrClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
