package predict

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/maincase/mdesign-backend/internal/domain"
)

// ReplicateClient is a minimal client for the Replicate predictions API.
type ReplicateClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewReplicateClient creates a client for the given API base URL and token.
func NewReplicateClient(baseURL, token string, log zerolog.Logger) *ReplicateClient {
	return &ReplicateClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log.With().Str("predictor", "replicate").Logger(),
	}
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Logs   string          `json:"logs"`
	Error  string          `json:"error"`
}

type replicateCreateRequest struct {
	Version             string         `json:"version"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

func (c *ReplicateClient) createPrediction(ctx context.Context, body replicateCreateRequest) (*replicatePrediction, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal prediction request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("%w: replicate returned %d: %s", domain.ErrProviderFailure, res.StatusCode, msg)
	}
	var pred replicatePrediction
	if err := json.NewDecoder(res.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("%w: decode prediction: %v", domain.ErrProviderFailure, err)
	}
	return &pred, nil
}

func (c *ReplicateClient) getPrediction(ctx context.Context, id string) (*replicatePrediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("build prediction request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: replicate returned %d", domain.ErrProviderFailure, res.StatusCode)
	}
	var pred replicatePrediction
	if err := json.NewDecoder(res.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("%w: decode prediction: %v", domain.ErrProviderFailure, err)
	}
	return &pred, nil
}

// FetchOutputs downloads the render URLs a completed prediction reported.
func (c *ReplicateClient) FetchOutputs(ctx context.Context, urls []string) ([][]byte, error) {
	outputs := make([][]byte, 0, len(urls))
	for _, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("build output request: %w", err)
		}
		res, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch output %s: %v", domain.ErrProviderFailure, u, err)
		}
		data, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read output %s: %v", domain.ErrProviderFailure, u, err)
		}
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: output %s returned %d", domain.ErrProviderFailure, u, res.StatusCode)
		}
		outputs = append(outputs, data)
	}
	return outputs, nil
}

// CallbackPayload is the webhook body Replicate posts to the callback
// endpoint: either a terminal status with output URLs, or an in-progress
// update whose logs carry "part/total" markers.
type CallbackPayload struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output"`
	Logs   string   `json:"logs"`
	Error  string   `json:"error"`
}

// Succeeded reports whether the payload signals terminal success.
func (p CallbackPayload) Succeeded() bool { return p.Status == "succeeded" }

// Failed reports whether the payload signals a terminal failure.
func (p CallbackPayload) Failed() bool {
	return p.Status == "failed" || p.Status == "canceled"
}

// ParseCallback decodes a webhook delivery body.
func ParseCallback(body []byte) (CallbackPayload, error) {
	var payload CallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return CallbackPayload{}, fmt.Errorf("decode callback payload: %w", err)
	}
	return payload, nil
}

// ReplicateDiffusion submits diffusion jobs to Replicate's queue with a
// webhook callback carrying the interior id; it never blocks on generation.
type ReplicateDiffusion struct {
	client         *ReplicateClient
	version        string
	params         GenerationParams
	webhookBaseURL string
}

// NewReplicateDiffusion creates the webhook-driven diffusion backend.
func NewReplicateDiffusion(client *ReplicateClient, version, webhookBaseURL string, params GenerationParams) *ReplicateDiffusion {
	return &ReplicateDiffusion{
		client:         client,
		version:        version,
		params:         params,
		webhookBaseURL: webhookBaseURL,
	}
}

func (r *ReplicateDiffusion) Mode() Mode { return ModeWebhook }

// GenerateRenders dispatches the remote job and returns its provider id.
// Completion and progress both arrive on the callback endpoint.
func (r *ReplicateDiffusion) GenerateRenders(ctx context.Context, req RenderRequest) ([][]byte, string, error) {
	input := map[string]any{
		"image":               "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.Image),
		"prompt":              FormatPrompt(r.params.Prompt, req.Room, req.Style),
		"negative_prompt":     r.params.NegativePrompt,
		"num_inference_steps": r.params.InferenceSteps,
		"prompt_strength":     r.params.InferenceStrength,
		"guidance_scale":      r.params.GuidanceScale,
		"num_outputs":         r.params.NumRenders,
		"seed":                r.params.Seed,
	}
	pred, err := r.client.createPrediction(ctx, replicateCreateRequest{
		Version:             r.version,
		Input:               input,
		Webhook:             r.webhookBaseURL + "?id=" + url.QueryEscape(req.InteriorID),
		WebhookEventsFilter: []string{"logs", "completed"},
	})
	if err != nil {
		return nil, "", err
	}
	r.client.log.Debug().Str("interior_id", req.InteriorID).Str("prediction_id", pred.ID).Msg("diffusion job queued")
	return nil, pred.ID, nil
}

// ReplicateDetector runs object detection through Replicate's poll-style
// API: create a prediction per render and poll it to a terminal state.
type ReplicateDetector struct {
	client       *ReplicateClient
	version      string
	pollInterval time.Duration
	timeout      time.Duration
}

// NewReplicateDetector creates the poll-style detection backend.
func NewReplicateDetector(client *ReplicateClient, version string) *ReplicateDetector {
	return &ReplicateDetector{
		client:       client,
		version:      version,
		pollInterval: 2 * time.Second,
		timeout:      5 * time.Minute,
	}
}

// DetectObjects yields one detection result per render in index order.
func (d *ReplicateDetector) DetectObjects(ctx context.Context, renders [][]byte) <-chan Detection {
	out := make(chan Detection)
	go func() {
		defer close(out)
		for i, render := range renders {
			objects, err := d.detectOne(ctx, render)
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

func (d *ReplicateDetector) detectOne(ctx context.Context, render []byte) ([]domain.DetectedObject, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	pred, err := d.client.createPrediction(ctx, replicateCreateRequest{
		Version: d.version,
		Input: map[string]any{
			"image": "data:image/png;base64," + base64.StdEncoding.EncodeToString(render),
		},
	})
	if err != nil {
		return nil, err
	}

	for {
		switch pred.Status {
		case "succeeded":
			var objects []detectionObject
			if err := json.Unmarshal(pred.Output, &objects); err != nil {
				return nil, fmt.Errorf("%w: decode detection output: %v", domain.ErrProviderFailure, err)
			}
			return toDetectedObjects(objects), nil
		case "failed", "canceled":
			return nil, fmt.Errorf("%w: detection %s: %s", domain.ErrProviderFailure, pred.Status, pred.Error)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: detection timed out: %v", domain.ErrProviderFailure, ctx.Err())
		case <-time.After(d.pollInterval):
		}

		if pred, err = d.client.getPrediction(ctx, pred.ID); err != nil {
			return nil, err
		}
	}
}

var (
	_ DiffusionPredictor = (*ReplicateDiffusion)(nil)
	_ ObjectDetector     = (*ReplicateDetector)(nil)
	_ OutputFetcher      = (*ReplicateClient)(nil)
)
