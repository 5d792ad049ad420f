package turnstile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maincase/mdesign-backend/internal/domain"
)

func TestVerifyDisabledPassesEverything(t *testing.T) {
	v := New("", "http://unused")
	if v.Enabled() {
		t.Fatal("verifier without secret must be disabled")
	}
	if err := v.Verify(context.Background(), "", ""); err != nil {
		t.Fatalf("disabled verifier returned %v", err)
	}
}

func TestVerifySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("secret") != "s3cret" || r.PostForm.Get("response") != "tok" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		if r.PostForm.Get("remoteip") != "203.0.113.9" {
			t.Errorf("remoteip = %q", r.PostForm.Get("remoteip"))
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	v := New("s3cret", srv.URL)
	if err := v.Verify(context.Background(), "tok", "203.0.113.9"); err != nil {
		t.Fatalf("Verify = %v", err)
	}
}

func TestVerifyRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer srv.Close()

	v := New("s3cret", srv.URL)
	err := v.Verify(context.Background(), "bad", "")
	if !errors.Is(err, domain.ErrCaptchaFailed) {
		t.Fatalf("Verify = %v, want captcha failure", err)
	}
}

func TestVerifyMissingToken(t *testing.T) {
	v := New("s3cret", "http://unused")
	if err := v.Verify(context.Background(), "", ""); !errors.Is(err, domain.ErrCaptchaFailed) {
		t.Fatalf("Verify = %v, want captcha failure", err)
	}
}
