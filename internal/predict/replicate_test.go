package predict

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/maincase/mdesign-backend/internal/domain"
)

func TestReplicateDiffusionDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predictions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Token tok-1" {
			t.Errorf("auth = %q", got)
		}
		var body replicateCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Version != "ver-1" {
			t.Errorf("version = %q", body.Version)
		}
		if body.Webhook != "https://api.test/callback?id=int-1" {
			t.Errorf("webhook = %q", body.Webhook)
		}
		if len(body.WebhookEventsFilter) != 2 {
			t.Errorf("events filter = %v", body.WebhookEventsFilter)
		}
		if body.Input["num_outputs"] != float64(3) {
			t.Errorf("num_outputs = %v", body.Input["num_outputs"])
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "pred-7", "status": "starting"})
	}))
	defer srv.Close()

	client := NewReplicateClient(srv.URL, "tok-1", zerolog.Nop())
	d := NewReplicateDiffusion(client, "ver-1", "https://api.test/callback", testParams())

	if d.Mode() != ModeWebhook {
		t.Fatal("replicate diffusion must be webhook mode")
	}
	renders, providerID, err := d.GenerateRenders(context.Background(), RenderRequest{
		InteriorID: "int-1", Image: []byte("png"), Room: "bedroom", Style: "modern",
	})
	if err != nil {
		t.Fatal(err)
	}
	if renders != nil || providerID != "pred-7" {
		t.Fatalf("renders = %v, providerID = %q", renders, providerID)
	}
}

func TestFetchOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data-" + r.URL.Path))
	}))
	defer srv.Close()

	client := NewReplicateClient(srv.URL, "tok", zerolog.Nop())
	outputs, err := client.FetchOutputs(context.Background(), []string{srv.URL + "/a", srv.URL + "/b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 2 || string(outputs[0]) != "data-/a" || string(outputs[1]) != "data-/b" {
		t.Fatalf("outputs = %q", outputs)
	}
}

func TestParseCallback(t *testing.T) {
	payload, err := ParseCallback([]byte(`{"id":"p1","status":"succeeded","output":["u1","u2"],"logs":"30/30"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !payload.Succeeded() || payload.Failed() || len(payload.Output) != 2 {
		t.Fatalf("payload = %+v", payload)
	}

	payload, err = ParseCallback([]byte(`{"id":"p2","status":"canceled"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !payload.Failed() || payload.Succeeded() {
		t.Fatalf("payload = %+v", payload)
	}

	if _, err := ParseCallback([]byte("{nope")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestReplicateDetectorPollsToCompletion(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]any{"id": "det-1", "status": "processing"})
		case gets.Add(1) < 2:
			json.NewEncoder(w).Encode(map[string]any{"id": "det-1", "status": "processing"})
		default:
			json.NewEncoder(w).Encode(map[string]any{
				"id": "det-1", "status": "succeeded",
				"output": []map[string]any{
					{"label": "lamp", "score": 0.8, "box": map[string]float64{"xmin": 0, "ymin": 0, "xmax": 5, "ymax": 5}},
				},
			})
		}
	}))
	defer srv.Close()

	client := NewReplicateClient(srv.URL, "tok", zerolog.Nop())
	d := NewReplicateDetector(client, "det-ver")
	d.pollInterval = 0

	var got []Detection
	for det := range d.DetectObjects(context.Background(), [][]byte{[]byte("r0")}) {
		got = append(got, det)
	}
	if len(got) != 1 || got[0].Err != nil {
		t.Fatalf("detections = %+v", got)
	}
	if len(got[0].Objects) != 1 || got[0].Objects[0].Label != "lamp" {
		t.Fatalf("objects = %+v", got[0].Objects)
	}
}

func TestReplicateDetectorFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "det-2", "status": "failed", "error": "oom"})
	}))
	defer srv.Close()

	client := NewReplicateClient(srv.URL, "tok", zerolog.Nop())
	d := NewReplicateDetector(client, "det-ver")
	d.pollInterval = 0

	var got []Detection
	for det := range d.DetectObjects(context.Background(), [][]byte{[]byte("r0")}) {
		got = append(got, det)
	}
	if len(got) != 1 || !errors.Is(got[0].Err, domain.ErrProviderFailure) {
		t.Fatalf("detections = %+v", got)
	}
}
