package predict

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/maincase/mdesign-backend/internal/domain"
)

// DirectConfig configures the self-hosted predictor endpoints.
type DirectConfig struct {
	DiffusionURL string
	DetectionURL string
	Params       GenerationParams
	Timeout      time.Duration
}

// DirectPredictor talks to self-hosted model servers over plain HTTP. Both
// operations are synchronous: diffusion blocks until every render is in the
// response, detection is polled one render at a time. Calls are never
// retried.
type DirectPredictor struct {
	diffusionURL string
	detectionURL string
	params       GenerationParams
	httpClient   *http.Client
	log          zerolog.Logger
}

// NewDirectPredictor creates a predictor for self-hosted endpoints.
func NewDirectPredictor(cfg DirectConfig, log zerolog.Logger) *DirectPredictor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &DirectPredictor{
		diffusionURL: cfg.DiffusionURL,
		detectionURL: cfg.DetectionURL,
		params:       cfg.Params,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log.With().Str("predictor", "direct").Logger(),
	}
}

func (p *DirectPredictor) Mode() Mode { return ModeSync }

type directDiffusionInstance struct {
	ID                     string  `json:"id"`
	Image                  string  `json:"image"`
	Prompt                 string  `json:"prompt"`
	NegativePrompt         string  `json:"negative_prompt"`
	InferenceSteps         int     `json:"inference_steps"`
	InferenceStrength      float64 `json:"inference_strength"`
	InferenceGuidanceScale float64 `json:"inference_guidance_scale"`
	NumReturnImages        int     `json:"num_return_images"`
	GeneratorSeed          int64   `json:"generator_seed"`
}

type directDiffusionResponse struct {
	Predictions []struct {
		ID      string   `json:"id"`
		Renders []string `json:"renders"`
	} `json:"predictions"`
}

// GenerateRenders posts the source image and prompt to the diffusion endpoint
// and decodes the base64 renders from the response.
func (p *DirectPredictor) GenerateRenders(ctx context.Context, req RenderRequest) ([][]byte, string, error) {
	if p.diffusionURL == "" {
		return nil, "", fmt.Errorf("%w: diffusion endpoint not set", domain.ErrPredictorUnconfigured)
	}

	instance := directDiffusionInstance{
		ID:                     req.InteriorID,
		Image:                  base64.StdEncoding.EncodeToString(req.Image),
		Prompt:                 FormatPrompt(p.params.Prompt, req.Room, req.Style),
		NegativePrompt:         p.params.NegativePrompt,
		InferenceSteps:         p.params.InferenceSteps,
		InferenceStrength:      p.params.InferenceStrength,
		InferenceGuidanceScale: p.params.GuidanceScale,
		NumReturnImages:        p.params.NumRenders,
		GeneratorSeed:          p.params.Seed,
	}

	var resp directDiffusionResponse
	if err := p.post(ctx, p.diffusionURL, map[string]any{"instances": []any{instance}}, &resp); err != nil {
		return nil, "", err
	}
	if len(resp.Predictions) == 0 {
		return nil, "", fmt.Errorf("%w: diffusion response contained no predictions", domain.ErrProviderFailure)
	}

	encoded := resp.Predictions[0].Renders
	renders := make([][]byte, 0, len(encoded))
	for i, enc := range encoded {
		data, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, "", fmt.Errorf("%w: decode render %d: %v", domain.ErrProviderFailure, i, err)
		}
		renders = append(renders, data)
	}
	p.log.Debug().Int("renders", len(renders)).Str("interior_id", req.InteriorID).Msg("diffusion predictions received")
	return renders, resp.Predictions[0].ID, nil
}

type directDetectionResponse struct {
	Predictions [][]detectionObject `json:"predictions"`
}

type detectionObject struct {
	Label string             `json:"label"`
	Score float64            `json:"score"`
	Box   domain.BoundingBox `json:"box"`
}

// DetectObjects posts each render to the detection endpoint in order,
// yielding one result per completed call. The first failed call stops the
// stream after reporting the error for its index.
func (p *DirectPredictor) DetectObjects(ctx context.Context, renders [][]byte) <-chan Detection {
	out := make(chan Detection)
	go func() {
		defer close(out)
		for i, render := range renders {
			objects, err := p.detectOne(ctx, render)
			select {
			case out <- Detection{Index: i, Objects: objects, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

func (p *DirectPredictor) detectOne(ctx context.Context, render []byte) ([]domain.DetectedObject, error) {
	if p.detectionURL == "" {
		return nil, fmt.Errorf("%w: detection endpoint not set", domain.ErrPredictorUnconfigured)
	}
	body := map[string]any{
		"instances": []any{map[string]string{"image": base64.StdEncoding.EncodeToString(render)}},
	}
	var resp directDetectionResponse
	if err := p.post(ctx, p.detectionURL, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Predictions) == 0 {
		return nil, fmt.Errorf("%w: detection response contained no predictions", domain.ErrProviderFailure)
	}
	return toDetectedObjects(resp.Predictions[0]), nil
}

func (p *DirectPredictor) post(ctx context.Context, url string, body, into any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal predictor request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build predictor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%w: predictor returned %d: %s", domain.ErrProviderFailure, res.StatusCode, msg)
	}
	if err := json.NewDecoder(res.Body).Decode(into); err != nil {
		return fmt.Errorf("%w: decode predictor response: %v", domain.ErrProviderFailure, err)
	}
	return nil
}

func toDetectedObjects(objects []detectionObject) []domain.DetectedObject {
	out := make([]domain.DetectedObject, len(objects))
	for i, obj := range objects {
		out[i] = domain.DetectedObject{Label: obj.Label, Score: obj.Score, Box: obj.Box}
	}
	return out
}

var (
	_ DiffusionPredictor = (*DirectPredictor)(nil)
	_ ObjectDetector     = (*DirectPredictor)(nil)
)
