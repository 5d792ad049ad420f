package domain

import "context"

// InteriorRepository defines persistence for interior records. Progress
// updates and render appends are independent partial updates so that a
// progress write never clobbers a concurrent render append on the same row.
type InteriorRepository interface {
	Create(ctx context.Context, interior *Interior) error
	GetByID(ctx context.Context, id string) (*Interior, error)
	// ListCompleted returns records with progress exactly 100, most recently
	// updated first.
	ListCompleted(ctx context.Context, limit, skip int) ([]Interior, error)
	// SetProgress persists progress monotonically: a value below the stored
	// one leaves the row unchanged.
	SetProgress(ctx context.Context, id string, progress float64) error
	SetProviderJob(ctx context.Context, id string, provider Provider, providerID string) error
	// AppendRender appends one render and bumps progress in a single
	// statement.
	AppendRender(ctx context.Context, id string, render Render, progress float64) error
	// SetRenderObjects attaches detection results to the render at index.
	SetRenderObjects(ctx context.Context, id string, index int, objects []DetectedObject, progress float64) error
	// Finalize replaces the render set, sets progress to exactly 100 and
	// marks the record completed.
	Finalize(ctx context.Context, id string, renders []Render) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// ObjectStore is durable blob storage for original and generated images,
// addressed by fingerprint name. Put is idempotent for identical names.
type ObjectStore interface {
	Put(ctx context.Context, name string, data []byte) error
	PublicURL(name string) string
}
