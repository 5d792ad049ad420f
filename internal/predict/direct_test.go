package predict

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/maincase/mdesign-backend/internal/domain"
)

func testParams() GenerationParams {
	return GenerationParams{
		Prompt:            "design a ${room} in ${style} style",
		NegativePrompt:    "blurry",
		InferenceSteps:    30,
		InferenceStrength: 0.75,
		GuidanceScale:     9,
		NumRenders:        3,
		Seed:              2147483647,
	}
}

func TestFormatPrompt(t *testing.T) {
	got := FormatPrompt("a ${room} in ${style}, ${room} again", "bedroom", "modern")
	want := "a bedroom in modern, bedroom again"
	if got != want {
		t.Fatalf("FormatPrompt = %q, want %q", got, want)
	}
}

func TestDirectGenerateRenders(t *testing.T) {
	render := []byte("fake-render-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Instances []directDiffusionInstance `json:"instances"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if len(body.Instances) != 1 {
			t.Fatalf("instances = %d", len(body.Instances))
		}
		in := body.Instances[0]
		if in.ID != "int-1" || in.Prompt != "design a bedroom in modern style" {
			t.Errorf("instance = %+v", in)
		}
		if in.InferenceSteps != 30 || in.NumReturnImages != 3 || in.GeneratorSeed != 2147483647 {
			t.Errorf("params = %+v", in)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"predictions": []map[string]any{{
				"id":      "srv-1",
				"renders": []string{base64.StdEncoding.EncodeToString(render)},
			}},
		})
	}))
	defer srv.Close()

	p := NewDirectPredictor(DirectConfig{DiffusionURL: srv.URL, Params: testParams()}, zerolog.Nop())
	renders, providerID, err := p.GenerateRenders(context.Background(), RenderRequest{
		InteriorID: "int-1", Image: []byte("png"), Room: "bedroom", Style: "modern",
	})
	if err != nil {
		t.Fatal(err)
	}
	if providerID != "srv-1" || len(renders) != 1 || string(renders[0]) != string(render) {
		t.Fatalf("renders = %d, providerID = %q", len(renders), providerID)
	}
}

func TestDirectGenerateRendersNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewDirectPredictor(DirectConfig{DiffusionURL: srv.URL, Params: testParams()}, zerolog.Nop())
	_, _, err := p.GenerateRenders(context.Background(), RenderRequest{InteriorID: "int-1"})
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("err = %v, want provider failure", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want exactly 1", calls.Load())
	}
}

func TestDirectGenerateRendersUnconfigured(t *testing.T) {
	p := NewDirectPredictor(DirectConfig{Params: testParams()}, zerolog.Nop())
	_, _, err := p.GenerateRenders(context.Background(), RenderRequest{InteriorID: "int-1"})
	if !errors.Is(err, domain.ErrPredictorUnconfigured) {
		t.Fatalf("err = %v, want unconfigured", err)
	}
}

func TestDirectDetectObjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"predictions": [][]map[string]any{{
				{"label": "sofa", "score": 0.92, "box": map[string]float64{"xmin": 1, "ymin": 2, "xmax": 30, "ymax": 40}},
			}},
		})
	}))
	defer srv.Close()

	p := NewDirectPredictor(DirectConfig{DetectionURL: srv.URL, Params: testParams()}, zerolog.Nop())
	var got []Detection
	for det := range p.DetectObjects(context.Background(), [][]byte{[]byte("r0"), []byte("r1")}) {
		got = append(got, det)
	}
	if len(got) != 2 {
		t.Fatalf("detections = %d, want 2", len(got))
	}
	for i, det := range got {
		if det.Err != nil || det.Index != i {
			t.Fatalf("detection %d = %+v", i, det)
		}
		if len(det.Objects) != 1 || det.Objects[0].Label != "sofa" || det.Objects[0].Box.XMax != 30 {
			t.Fatalf("objects = %+v", det.Objects)
		}
	}
}

func TestDirectDetectObjectsStopsOnError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"predictions": [][]map[string]any{{}}})
	}))
	defer srv.Close()

	p := NewDirectPredictor(DirectConfig{DetectionURL: srv.URL, Params: testParams()}, zerolog.Nop())
	var got []Detection
	for det := range p.DetectObjects(context.Background(), [][]byte{[]byte("r0"), []byte("r1"), []byte("r2")}) {
		got = append(got, det)
	}
	if len(got) != 2 {
		t.Fatalf("detections = %d, want 2 (second carries the error)", len(got))
	}
	if got[0].Err != nil || got[1].Err == nil {
		t.Fatalf("errors = %v, %v", got[0].Err, got[1].Err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2 (no call for the third render)", calls.Load())
	}
}
