package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req extractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.SampleRate != 0.5 {
			t.Errorf("sample rate %v, want 0.5", req.SampleRate)
		}
		json.NewEncoder(w).Encode(Extraction{
			VideoRef:    req.VideoRef,
			DurationSec: 120,
			AudioRef:    "file:///tmp/audio.wav",
			Frames:      []FrameRef{{Timestamp: 0, URI: "file:///tmp/f0.jpg"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	out, err := c.Extract(context.Background(), "file:///videos/lecture.mp4", 0.5)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if out.DurationSec != 120 || out.AudioRef == "" || len(out.Frames) != 1 {
		t.Fatalf("unexpected extraction: %+v", out)
	}
}

func TestClientExtractCapacityError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.Extract(context.Background(), "file:///videos/lecture.mp4", 1)
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if capErr.Status != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", capErr.Status)
	}
}

func TestClientExtractServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.Extract(context.Background(), "file:///videos/lecture.mp4", 1)
	if err == nil {
		t.Fatal("expected error on 500")
	}
	var capErr *CapacityError
	if errors.As(err, &capErr) {
		t.Fatal("500 must not classify as capacity")
	}
}
