package domain

import "time"

// InteriorStatus enumerates the lifecycle states of a redesign job.
type InteriorStatus string

const (
	StatusProcessing InteriorStatus = "processing"
	StatusCompleted  InteriorStatus = "completed"
	StatusFailed     InteriorStatus = "failed"
)

// Provider identifies which predictor backend is processing an interior.
type Provider string

const (
	ProviderMDesign   Provider = "mdesign"
	ProviderReplicate Provider = "replicate"
)

// BoundingBox locates a detected object inside a render, in pixel coordinates.
type BoundingBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Valid reports whether the box describes a non-empty region.
func (b BoundingBox) Valid() bool {
	return b.XMax > b.XMin && b.YMax > b.YMin
}

// Product is a catalog item matched against a detected object.
type Product struct {
	ASIN string `json:"asin"`
	Link string `json:"link"`
}

// DetectedObject is one detection result attached to a render.
type DetectedObject struct {
	Label    string      `json:"label"`
	Score    float64     `json:"score"`
	Box      BoundingBox `json:"box"`
	Products []Product   `json:"products,omitempty"`
}

// Render is one generated variant image plus its analysis. Renders are owned
// by their parent interior and are only ever created by the pipeline.
type Render struct {
	Image   string           `json:"image"`
	Objects []DetectedObject `json:"objects,omitempty"`
}

// Interior represents one user-submitted redesign request and its accumulated
// results. Progress runs from the creation weight up to exactly 100; records
// below 100 are excluded from listings.
type Interior struct {
	ID            string         `json:"id"`
	Room          string         `json:"room"`
	Style         string         `json:"style"`
	Image         string         `json:"image"`
	Progress      float64        `json:"progress"`
	Status        InteriorStatus `json:"status"`
	FailureReason string         `json:"failureReason,omitempty"`
	Provider      Provider       `json:"provider,omitempty"`
	ProviderID    string         `json:"providerId,omitempty"`
	Renders       []Render       `json:"renders"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}
