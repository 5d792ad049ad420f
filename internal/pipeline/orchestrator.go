// Package pipeline runs the multi-stage generation flow behind interior
// requests: upload, diffusion, render storage, object detection and product
// matching, with progress persisted after every step. The flow is detached
// from the HTTP request that started it; webhook-mode runs additionally
// suspend between dispatch and callback, parked in the registry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/maincase/mdesign-backend/internal/domain"
	"github.com/maincase/mdesign-backend/internal/fingerprint"
	"github.com/maincase/mdesign-backend/internal/predict"
	"github.com/maincase/mdesign-backend/internal/products"
)

// Blob is one named image payload bound for object storage.
type Blob struct {
	Name string
	Data []byte
}

// LaunchInput carries a freshly created interior and its encoded originals
// into the pipeline.
type LaunchInput struct {
	Interior *domain.Interior
	// PNG is the lossless copy sent to the diffusion backend.
	PNG Blob
	// JPEG is the display copy referenced by the record.
	JPEG Blob
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Repo      domain.InteriorRepository
	Store     domain.ObjectStore
	Diffusion predict.DiffusionPredictor
	Detector  predict.ObjectDetector
	// Fetcher downloads webhook output URLs; required for webhook backends.
	Fetcher predict.OutputFetcher
	// Matcher is optional; nil disables product matching. Objects below
	// MatchMinScore or without a usable bounding box are skipped.
	Matcher       products.Matcher
	MatchMinScore float64
	Registry      *Registry
	Queue         *CallbackQueue
	Weights       Weights
	Refine        bool
	// NumRenders caps how many provider renders are processed; extras are
	// dropped. Zero means no cap.
	NumRenders int
	Provider   domain.Provider
	// Timeout bounds one synchronous predictor call.
	Timeout time.Duration
	Log     zerolog.Logger
}

// Orchestrator drives interiors through the pipeline. All entry points
// return immediately; the stages run on background goroutines and report
// exclusively through the repository.
type Orchestrator struct {
	repo       domain.InteriorRepository
	store      domain.ObjectStore
	diffusion  predict.DiffusionPredictor
	detector   predict.ObjectDetector
	fetcher    predict.OutputFetcher
	matcher    products.Matcher
	minScore   float64
	registry   *Registry
	queue      *CallbackQueue
	weights    Weights
	refine     bool
	numRenders int
	provider   domain.Provider
	timeout    time.Duration
	log        zerolog.Logger
}

// NewOrchestrator creates an orchestrator from its wiring.
func NewOrchestrator(cfg Config) *Orchestrator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Orchestrator{
		repo:       cfg.Repo,
		store:      cfg.Store,
		diffusion:  cfg.Diffusion,
		detector:   cfg.Detector,
		fetcher:    cfg.Fetcher,
		matcher:    cfg.Matcher,
		minScore:   cfg.MatchMinScore,
		registry:   cfg.Registry,
		queue:      cfg.Queue,
		weights:    cfg.Weights,
		refine:     cfg.Refine,
		numRenders: cfg.NumRenders,
		provider:   cfg.Provider,
		timeout:    timeout,
		log:        cfg.Log.With().Str("component", "pipeline").Logger(),
	}
}

// Launch starts the pipeline for a just-created interior and returns without
// waiting for it. The caller has already persisted the record at the creation
// progress weight.
func (o *Orchestrator) Launch(in LaunchInput) {
	tracker := NewTracker(o.weights, o.refine)
	tracker.Created()

	go func() {
		if err := o.generate(context.Background(), in, tracker); err != nil {
			o.fail(in.Interior.ID, err)
		}
	}()
}

// generate runs upload and diffusion dispatch. Sync backends continue
// straight into render processing; webhook backends park the job in the
// registry and return, to be resumed by HandleCallback.
func (o *Orchestrator) generate(ctx context.Context, in LaunchInput, tracker *Tracker) error {
	id := in.Interior.ID
	for _, blob := range []Blob{in.PNG, in.JPEG} {
		if err := o.store.Put(ctx, id+"-"+blob.Name, blob.Data); err != nil {
			return fmt.Errorf("store original: %w", err)
		}
	}
	if progress, changed := tracker.Uploaded(); changed {
		if err := o.repo.SetProgress(ctx, id, progress); err != nil {
			return err
		}
	}

	req := predict.RenderRequest{
		InteriorID: id,
		Image:      in.PNG.Data,
		Room:       in.Interior.Room,
		Style:      in.Interior.Style,
	}
	job := &Job{InteriorID: id, Room: in.Interior.Room, Style: in.Interior.Style, Tracker: tracker}

	if o.diffusion.Mode() == predict.ModeWebhook {
		// Registered before dispatch: the provider may call back before
		// GenerateRenders even returns.
		o.registry.Register(job)
		_, providerID, err := o.diffusion.GenerateRenders(ctx, req)
		if err != nil {
			o.registry.Remove(id)
			return err
		}
		if err := o.repo.SetProviderJob(ctx, id, o.provider, providerID); err != nil {
			// The record is about to be marked failed; a lingering entry
			// would let a late callback resurrect it.
			o.registry.Remove(id)
			return err
		}
		o.log.Info().Str("interior_id", id).Str("provider_id", providerID).Msg("generation dispatched, awaiting callback")
		return nil
	}

	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	renders, providerID, err := o.diffusion.GenerateRenders(genCtx, req)
	cancel()
	if err != nil {
		return err
	}
	if providerID != "" {
		if err := o.repo.SetProviderJob(ctx, id, o.provider, providerID); err != nil {
			return err
		}
	}
	if progress, changed := tracker.DiffusionDone(); changed {
		if err := o.repo.SetProgress(ctx, id, progress); err != nil {
			return err
		}
	}
	return o.processRenders(ctx, job, renders)
}

// HandleCallback enqueues one webhook delivery for serialized handling. It
// never blocks and never reports an error to the provider: failures are the
// record's to carry, not the webhook response's.
func (o *Orchestrator) HandleCallback(interiorID string, payload predict.CallbackPayload) {
	o.queue.Enqueue(func() { o.handleCallback(interiorID, payload) })
}

func (o *Orchestrator) handleCallback(id string, payload predict.CallbackPayload) {
	ctx := context.Background()

	switch {
	case payload.Failed():
		if _, ok := o.registry.Remove(id); !ok {
			o.dropCallback(id, payload.Status)
			return
		}
		o.fail(id, fmt.Errorf("%w: generation %s: %s", domain.ErrProviderFailure, payload.Status, payload.Error))

	case payload.Succeeded():
		job, ok := o.registry.Remove(id)
		if !ok {
			o.dropCallback(id, payload.Status)
			return
		}
		// Failed is terminal: a success delivery racing the failure mark
		// must not restart the run.
		if interior, err := o.repo.GetByID(ctx, id); err == nil && interior.Status == domain.StatusFailed {
			o.dropCallback(id, payload.Status)
			return
		}
		renders, err := o.fetcher.FetchOutputs(ctx, payload.Output)
		if err != nil {
			o.fail(id, err)
			return
		}
		if progress, changed := job.Tracker.DiffusionDone(); changed {
			if err := o.repo.SetProgress(ctx, id, progress); err != nil {
				o.fail(id, err)
				return
			}
		}
		if err := o.processRenders(ctx, job, renders); err != nil {
			o.fail(id, err)
		}

	default:
		// In-progress update: the job stays registered.
		job, ok := o.registry.Lookup(id)
		if !ok {
			o.dropCallback(id, payload.Status)
			return
		}
		if progress, changed := job.Tracker.ApplyLogs(payload.Logs); changed {
			if err := o.repo.SetProgress(ctx, id, progress); err != nil {
				o.log.Error().Err(err).Str("interior_id", id).Msg("progress write failed")
			}
		}
	}
}

// dropCallback logs a delivery with no pending job. Duplicate terminal
// deliveries and callbacks for ids lost to a restart both land here.
func (o *Orchestrator) dropCallback(id, status string) {
	o.log.Warn().Str("interior_id", id).Str("status", status).Msg("callback for unknown job dropped")
}

// processRenders stores renders and runs detection over them concurrently.
// Storage is strictly sequential; detection results are persisted only after
// their render is stored, so a reader never sees objects for a render that
// is not in the record yet. Ends by finalizing the record at progress 100.
func (o *Orchestrator) processRenders(ctx context.Context, job *Job, renders [][]byte) error {
	if len(renders) == 0 {
		return fmt.Errorf("%w: no renders produced", domain.ErrProviderFailure)
	}
	if o.numRenders > 0 && len(renders) > o.numRenders {
		// Progress weights are sized for the requested count; extras would
		// push the percentage past 100.
		o.log.Warn().Str("interior_id", job.InteriorID).Int("got", len(renders)).Int("requested", o.numRenders).Msg("provider returned extra renders, truncating")
		renders = renders[:o.numRenders]
	}
	id := job.InteriorID

	urls := make([]string, len(renders))
	objects := make([][]domain.DetectedObject, len(renders))
	storedCh := make(chan int, len(renders))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(storedCh)
		for i, data := range renders {
			name := fingerprint.Name(data, "png")
			if err := o.store.Put(gctx, name, data); err != nil {
				return fmt.Errorf("store render %d: %w", i, err)
			}
			urls[i] = o.store.PublicURL(name)
			progress, _ := job.Tracker.RenderStored()
			if err := o.repo.AppendRender(gctx, id, domain.Render{Image: urls[i]}, progress); err != nil {
				return err
			}
			storedCh <- i
		}
		return nil
	})

	g.Go(func() error {
		stored := -1
		for det := range o.detector.DetectObjects(gctx, renders) {
			if det.Err != nil {
				return fmt.Errorf("detect render %d: %w", det.Index, det.Err)
			}
			for stored < det.Index {
				i, ok := <-storedCh
				if !ok {
					if err := gctx.Err(); err != nil {
						return err
					}
					return errors.New("render storage ended early")
				}
				stored = i
			}
			objs := det.Objects
			if o.matcher != nil {
				objs = o.matchProducts(gctx, renders[det.Index], objs)
			}
			objects[det.Index] = objs
			progress, _ := job.Tracker.RenderDetected()
			if err := o.repo.SetRenderObjects(gctx, id, det.Index, objs, progress); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	final := make([]domain.Render, len(renders))
	for i := range renders {
		final[i] = domain.Render{Image: urls[i], Objects: objects[i]}
	}
	job.Tracker.Finalized()
	if err := o.repo.Finalize(ctx, id, final); err != nil {
		return err
	}
	o.log.Info().Str("interior_id", id).Int("renders", len(final)).Msg("interior completed")
	return nil
}

// matchProducts attaches catalog matches to each object. Matching is best
// effort: a failed lookup leaves that object without products and the run
// continues.
func (o *Orchestrator) matchProducts(ctx context.Context, render []byte, objs []domain.DetectedObject) []domain.DetectedObject {
	for i := range objs {
		if objs[i].Score < o.minScore || !objs[i].Box.Valid() {
			continue
		}
		matches, err := o.matcher.MatchObject(ctx, render, objs[i])
		if err != nil {
			o.log.Warn().Err(err).Str("label", objs[i].Label).Msg("product match failed")
			continue
		}
		objs[i].Products = matches
	}
	return objs
}

// fail marks the record failed with the error as the stored reason.
func (o *Orchestrator) fail(id string, cause error) {
	o.log.Error().Err(cause).Str("interior_id", id).Msg("pipeline failed")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.repo.MarkFailed(ctx, id, cause.Error()); err != nil {
		o.log.Error().Err(err).Str("interior_id", id).Msg("failure write failed")
	}
}
