package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default prompt templates; ${room} and ${style} are substituted per request.
const (
	defaultPrompt = "photo-realistic interior design for ${room} with ${style} style with same " +
		"lightning as in initial image, very detailed, hyper sharp focus, super resolution, " +
		"leave original walls, stunning intricate detail, photorealistic, octane render, " +
		"furniture, electronics, ultra realistic, 4k, 8k"
	defaultNegativePrompt = "lowres, text, error, cropped, worst quality, low quality, jpeg artifacts, " +
		"ugly, duplicate, out of frame, blurry, deformed, underexposed, overexposed, " +
		"low contrast, watermark, signature, cut off"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// Object storage. GCS when a bucket is configured, local filesystem
	// otherwise (development).
	GCSBucket          string
	GCSCredentialsFile string
	StoragePath        string
	StorageBaseURL     string

	// Direct (self-hosted) predictor endpoints.
	DiffusionURL string
	DetectionURL string

	// Replicate webhook-driven predictor.
	ReplicateAPIToken         string
	ReplicateBaseURL          string
	ReplicateDiffusionVersion string
	ReplicateDetectionVersion string
	WebhookBaseURL            string

	// Generation parameters.
	Prompt            string
	NegativePrompt    string
	InferenceSteps    int
	InferenceStrength float64
	GuidanceScale     float64
	NumRenders        int
	GeneratorSeed     int64
	RefinementEnabled bool

	// Progress weights; must sum to 100 for NumRenders renders.
	ProgressCreate    float64
	ProgressUpload    float64
	ProgressDiffusion float64
	ProgressRefine    float64
	ProgressStore     float64
	ProgressDetect    float64
	ProgressFinalize  float64

	// Product matching via Google Vision product search. The stage is
	// enabled only when a product set is configured.
	VisionProductSet      string
	VisionProductCategory string
	ProductMatchLimit     int
	ProductMatchMinScore  float64

	// Cloudflare Turnstile bot verification, skipped in development.
	TurnstileSecret    string
	TurnstileVerifyURL string

	GeoIPDBPath string

	MaxImageDimension int
	PaginationLimit   int
	CallbackSpacing   time.Duration
	PredictorTimeout  time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		GCSBucket:          os.Getenv("GCS_BUCKET"),
		GCSCredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:     getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),

		DiffusionURL: os.Getenv("DIFFUSION_URL"),
		DetectionURL: os.Getenv("DETECTION_URL"),

		ReplicateAPIToken:         os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:          getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateDiffusionVersion: os.Getenv("REPLICATE_DIFFUSION_VERSION"),
		ReplicateDetectionVersion: os.Getenv("REPLICATE_DETECTION_VERSION"),
		WebhookBaseURL:            os.Getenv("WEBHOOK_BASE_URL"),

		Prompt:            getEnv("DIFFUSION_PROMPT", defaultPrompt),
		NegativePrompt:    getEnv("DIFFUSION_NEGATIVE_PROMPT", defaultNegativePrompt),
		InferenceSteps:    getEnvInt("INFERENCE_STEPS", 30),
		InferenceStrength: getEnvFloat("INFERENCE_STRENGTH", 0.75),
		GuidanceScale:     getEnvFloat("GUIDANCE_SCALE", 9),
		NumRenders:        getEnvInt("NUM_RENDERS", 3),
		GeneratorSeed:     int64(getEnvInt("GENERATOR_SEED", 2147483647)),
		RefinementEnabled: getEnvBool("REFINEMENT_ENABLED", false),

		ProgressCreate:    getEnvFloat("PROGRESS_CREATE", 1.5),
		ProgressUpload:    getEnvFloat("PROGRESS_UPLOAD", 2),
		ProgressDiffusion: getEnvFloat("PROGRESS_DIFFUSION", 80),
		ProgressRefine:    getEnvFloat("PROGRESS_REFINE", 20),
		ProgressStore:     getEnvFloat("PROGRESS_STORE_PER_RENDER", 2),
		ProgressDetect:    getEnvFloat("PROGRESS_DETECT_PER_RENDER", 3),
		ProgressFinalize:  getEnvFloat("PROGRESS_FINALIZE", 1.5),

		VisionProductSet:      os.Getenv("VISION_PRODUCT_SET"),
		VisionProductCategory: getEnv("VISION_PRODUCT_CATEGORY", "homegoods-v2"),
		ProductMatchLimit:     getEnvInt("PRODUCT_MATCH_LIMIT", 3),
		ProductMatchMinScore:  getEnvFloat("PRODUCT_MATCH_MIN_SCORE", 0.5),

		TurnstileSecret:    os.Getenv("TURNSTILE_SECRET"),
		TurnstileVerifyURL: getEnv("TURNSTILE_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),

		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		MaxImageDimension: getEnvInt("MAX_IMAGE_DIMENSION", 1024),
		PaginationLimit:   getEnvInt("PAGINATION_LIMIT", 20),
		CallbackSpacing:   time.Millisecond * time.Duration(getEnvInt("CALLBACK_SPACING_MS", 300)),
		PredictorTimeout:  time.Second * time.Duration(getEnvInt("PREDICTOR_TIMEOUT_SECONDS", 300)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// Predictor selection happens once at startup; refuse to boot half-wired.
	if cfg.ReplicateAPIToken == "" && cfg.DiffusionURL == "" {
		return nil, fmt.Errorf("either REPLICATE_API_TOKEN or DIFFUSION_URL is required")
	}
	if cfg.ReplicateAPIToken != "" && cfg.ReplicateDiffusionVersion == "" {
		return nil, fmt.Errorf("REPLICATE_DIFFUSION_VERSION is required with REPLICATE_API_TOKEN")
	}
	if cfg.ReplicateAPIToken != "" && cfg.WebhookBaseURL == "" {
		return nil, fmt.Errorf("WEBHOOK_BASE_URL is required with REPLICATE_API_TOKEN")
	}
	if cfg.DetectionURL == "" && cfg.ReplicateDetectionVersion == "" {
		return nil, fmt.Errorf("either DETECTION_URL or REPLICATE_DETECTION_VERSION is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
