package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maincase/mdesign-backend/internal/domain"
	"github.com/maincase/mdesign-backend/internal/fingerprint"
	"github.com/maincase/mdesign-backend/internal/imagecodec"
	"github.com/maincase/mdesign-backend/internal/middleware"
	"github.com/maincase/mdesign-backend/internal/pipeline"
	"github.com/maincase/mdesign-backend/internal/predict"
)

// maxUploadBytes caps the multipart body; the dimension check is the real
// limit, this only stops runaway uploads early.
const maxUploadBytes = 32 << 20

// maxCallbackBytes caps webhook delivery bodies. Progress deliveries carry
// the provider's full accumulated logs, which grow well past a megabyte on
// long generations; truncating mid-JSON would silently drop the update.
const maxCallbackBytes = 16 << 20

// CreateInterior accepts a room photo plus room type and design style,
// persists the record and starts the pipeline. The response returns as soon
// as the record exists; clients poll the record for progress.
func (a *App) CreateInterior(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart form")
		return
	}

	room := r.FormValue("room")
	style := r.FormValue("style")
	if room == "" || style == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "room and style are required")
		return
	}

	if err := a.Verifier.Verify(r.Context(), r.FormValue("captchaToken"), middleware.ClientIP(r)); err != nil {
		a.Log.Warn().Err(err).Msg("captcha verification failed")
		a.error(w, http.StatusForbidden, "captcha_failed", "captcha verification failed")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "image file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "could not read image")
		return
	}

	img, _, err := imagecodec.Decode(data)
	if err != nil {
		a.error(w, http.StatusBadRequest, "invalid_image", "image must be PNG, JPEG or WebP")
		return
	}
	if err := imagecodec.CheckDimensions(img, a.Cfg.MaxImageDimension); err != nil {
		a.error(w, http.StatusBadRequest, "image_too_large", err.Error())
		return
	}

	png, err := imagecodec.EncodePNG(img)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "could not encode image")
		return
	}
	jpeg, err := imagecodec.EncodeJPEG(img)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "could not encode image")
		return
	}

	id := uuid.NewString()
	jpegName := fingerprint.NameWithContext(jpeg, room, style, "jpg")
	pngName := fingerprint.NameWithContext(png, room, style, "png")

	interior := &domain.Interior{
		ID:       id,
		Room:     room,
		Style:    style,
		Image:    a.Store.PublicURL(id + "-" + jpegName),
		Progress: a.Cfg.ProgressCreate,
		Status:   domain.StatusProcessing,
		Renders:  []domain.Render{},
	}
	if err := a.Repo.Create(r.Context(), interior); err != nil {
		a.Log.Error().Err(err).Msg("interior create failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not create interior")
		return
	}

	a.Orchestrator.Launch(pipeline.LaunchInput{
		Interior: interior,
		PNG:      pipeline.Blob{Name: pngName, Data: png},
		JPEG:     pipeline.Blob{Name: jpegName, Data: jpeg},
	})

	a.json(w, http.StatusCreated, interior)
}

// CreateInteriorCallback receives provider webhook deliveries. It always
// answers 200: a non-2xx response only makes the provider redeliver a
// payload we already decided to drop.
func (a *App) CreateInteriorCallback(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil || id == "" {
		a.Log.Warn().Err(err).Str("interior_id", id).Msg("unusable callback delivery")
		a.ok(w)
		return
	}
	payload, err := predict.ParseCallback(body)
	if err != nil {
		a.Log.Warn().Err(err).Str("interior_id", id).Msg("undecodable callback payload")
		a.ok(w)
		return
	}
	a.Orchestrator.HandleCallback(id, payload)
	a.ok(w)
}

func (a *App) ok(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ok"))
}

// ListInteriors returns completed interiors, newest first. Both limit and
// skip are required so clients cannot accidentally page the whole table.
func (a *App) ListInteriors(w http.ResponseWriter, r *http.Request) {
	limit, err1 := strconv.Atoi(r.URL.Query().Get("limit"))
	skip, err2 := strconv.Atoi(r.URL.Query().Get("skip"))
	if err1 != nil || err2 != nil || limit <= 0 || skip < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "limit and skip query parameters are required")
		return
	}
	if limit > a.Cfg.PaginationLimit {
		limit = a.Cfg.PaginationLimit
	}

	interiors, err := a.Repo.ListCompleted(r.Context(), limit, skip)
	if err != nil {
		a.Log.Error().Err(err).Msg("interior list failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not list interiors")
		return
	}
	a.json(w, http.StatusOK, interiors)
}

// GetInterior returns one record by id, in-progress or not.
func (a *App) GetInterior(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	interior, err := a.Repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "interior not found")
			return
		}
		a.Log.Error().Err(err).Str("interior_id", id).Msg("interior fetch failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not fetch interior")
		return
	}
	a.json(w, http.StatusOK, interior)
}
