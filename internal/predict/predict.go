// Package predict abstracts the external model-serving backends: diffusion
// render generation and object detection. The concrete backend is chosen once
// at configuration load; the orchestrator only branches on the declared Mode.
package predict

import (
	"context"
	"strings"

	"github.com/maincase/mdesign-backend/internal/domain"
)

// Mode declares how a diffusion backend delivers its results.
type Mode int

const (
	// ModeSync backends block until all renders are in the HTTP response.
	ModeSync Mode = iota
	// ModeWebhook backends enqueue the job remotely and report completion
	// via an HTTP callback that carries the interior id.
	ModeWebhook
)

// RenderRequest carries one interior's inputs to the diffusion backend.
type RenderRequest struct {
	InteriorID string
	// Image is the PNG-encoded source photo.
	Image []byte
	Room  string
	Style string
}

// GenerationParams are the tunable diffusion inputs, shared by both backends.
type GenerationParams struct {
	Prompt            string
	NegativePrompt    string
	InferenceSteps    int
	InferenceStrength float64
	GuidanceScale     float64
	NumRenders        int
	Seed              int64
}

// DiffusionPredictor generates N candidate redesign images from one source
// image and a room/style prompt.
type DiffusionPredictor interface {
	Mode() Mode
	// GenerateRenders blocks and returns decoded renders for ModeSync
	// backends. ModeWebhook backends dispatch the remote job and return
	// (nil, providerJobID, nil); renders arrive later on the callback
	// endpoint.
	GenerateRenders(ctx context.Context, req RenderRequest) (renders [][]byte, providerID string, err error)
}

// Detection is one per-render detection result, delivered in index order.
type Detection struct {
	Index   int
	Objects []domain.DetectedObject
	Err     error
}

// ObjectDetector runs object detection over generated renders, yielding one
// Detection per render as each completes so callers can persist progress
// incrementally. The channel is closed after the last render (or after the
// first error).
type ObjectDetector interface {
	DetectObjects(ctx context.Context, renders [][]byte) <-chan Detection
}

// OutputFetcher downloads render URLs reported by a webhook backend.
type OutputFetcher interface {
	FetchOutputs(ctx context.Context, urls []string) ([][]byte, error)
}

// FormatPrompt substitutes ${room} and ${style} into a prompt template.
func FormatPrompt(template, room, style string) string {
	out := strings.ReplaceAll(template, "${room}", room)
	return strings.ReplaceAll(out, "${style}", style)
}
