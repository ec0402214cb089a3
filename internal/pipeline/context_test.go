package pipeline

import (
	"testing"

	"github.com/edu-data/mas/internal/domain"
)

func TestContextSetIsWriteOnce(t *testing.T) {
	pc := NewContext("file:///lecture.mp4", domain.RunConfig{})

	if err := pc.Set("vision", "first", 0.9); err != nil {
		t.Fatalf("first Set failed: %v", err)
	}
	if err := pc.Set("vision", "second", 0.5); err == nil {
		t.Fatal("expected second Set to fail")
	}

	slot, ok := pc.Get("vision")
	if !ok {
		t.Fatal("expected slot to exist")
	}
	if slot.Payload != "first" || slot.Confidence != 0.9 {
		t.Fatalf("unexpected slot: %+v", slot)
	}
}

func TestContextSetRejectsOutOfRangeConfidence(t *testing.T) {
	pc := NewContext("file:///lecture.mp4", domain.RunConfig{})

	if err := pc.Set("stt", nil, -0.1); err == nil {
		t.Fatal("expected error for negative confidence")
	}
	if err := pc.Set("stt", nil, 1.1); err == nil {
		t.Fatal("expected error for confidence above 1")
	}
	if _, ok := pc.Get("stt"); ok {
		t.Fatal("rejected write must not leave a slot")
	}
}

func TestContextSetFallback(t *testing.T) {
	pc := NewContext("file:///lecture.mp4", domain.RunConfig{})

	if err := pc.SetFallback("vibe"); err != nil {
		t.Fatalf("SetFallback failed: %v", err)
	}
	slot, ok := pc.Get("vibe")
	if !ok || !slot.Fallback {
		t.Fatalf("expected fallback slot, got %+v ok=%v", slot, ok)
	}
	if slot.Confidence != 0 {
		t.Fatalf("fallback slot must carry zero confidence, got %v", slot.Confidence)
	}

	// A fallback still occupies the slot.
	if err := pc.Set("vibe", "late", 0.8); err == nil {
		t.Fatal("expected Set after SetFallback to fail")
	}
}

func TestContextDefaultsSampleRate(t *testing.T) {
	pc := NewContext("file:///lecture.mp4", domain.RunConfig{})
	if pc.Config.SampleRate != 1.0 {
		t.Fatalf("expected default sample rate 1.0, got %v", pc.Config.SampleRate)
	}

	pc = NewContext("file:///lecture.mp4", domain.RunConfig{SampleRate: 2.5})
	if pc.Config.SampleRate != 2.5 {
		t.Fatalf("expected sample rate 2.5, got %v", pc.Config.SampleRate)
	}
}

func TestContextSnapshotIsCopy(t *testing.T) {
	pc := NewContext("file:///lecture.mp4", domain.RunConfig{})
	if err := pc.Set("extract", 42, 1.0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	snap := pc.Snapshot()
	snap["extract"] = Slot{Payload: "mutated"}
	snap["other"] = Slot{}

	slot, _ := pc.Get("extract")
	if slot.Payload != 42 {
		t.Fatalf("snapshot mutation leaked into context: %+v", slot)
	}
	if _, ok := pc.Get("other"); ok {
		t.Fatal("snapshot mutation added a slot")
	}
}

func TestContextMarshalResult(t *testing.T) {
	pc := NewContext("file:///lecture.mp4", domain.RunConfig{Language: "en"})
	if err := pc.Set("extract", map[string]int{"frames": 12}, 1.0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	data, err := pc.MarshalResult()
	if err != nil {
		t.Fatalf("MarshalResult failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty result")
	}
}
