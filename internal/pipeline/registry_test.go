package pipeline

import "testing"

func TestRegistryRegisterLookupRemove(t *testing.T) {
	r := NewRegistry()
	job := &Job{InteriorID: "abc", Room: "bedroom", Style: "modern"}

	r.Register(job)
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}

	got, ok := r.Lookup("abc")
	if !ok || got != job {
		t.Fatalf("Lookup = %v, %v", got, ok)
	}

	got, ok = r.Remove("abc")
	if !ok || got != job {
		t.Fatalf("Remove = %v, %v", got, ok)
	}
	if r.Len() != 0 {
		t.Fatalf("Len after remove = %d, want 0", r.Len())
	}

	// A second remove reports the job as already consumed.
	if _, ok := r.Remove("abc"); ok {
		t.Fatal("second Remove must report missing")
	}
}

func TestRegistryUnknownID(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("nope"); ok {
		t.Fatal("Lookup of unknown id must report missing")
	}
	if _, ok := r.Remove("nope"); ok {
		t.Fatal("Remove of unknown id must report missing")
	}
}
