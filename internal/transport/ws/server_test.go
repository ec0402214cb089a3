package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/edu-data/mas/internal/adapter/inference"
	"github.com/edu-data/mas/internal/adapter/media"
	"github.com/edu-data/mas/internal/bus"
	"github.com/edu-data/mas/internal/config"
	"github.com/edu-data/mas/internal/domain"
	"github.com/edu-data/mas/internal/hub"
	"github.com/edu-data/mas/internal/pipeline/agents"
	"github.com/edu-data/mas/internal/policy"
	"github.com/edu-data/mas/internal/service"
	"github.com/edu-data/mas/tests/helpers"
)

// The message handlers write frames to the connection's Send channel, so the
// protocol can be exercised without a live websocket or the pumps.

func newTestServer(t *testing.T, extractor media.Extractor, inf inference.Client, apiKey string) (*Server, *service.Service, *hub.Hub) {
	t.Helper()

	cfg := &config.Config{
		APIKey:            apiKey,
		RunTimeout:        10 * time.Second,
		MaxAttempts:       2,
		RetryBackoff:      time.Millisecond,
		MediaConcurrency:  2,
		VisionConcurrency: 2,
		STTConcurrency:    2,
		LLMConcurrency:    2,
		TimelineWindow:    200,
		WSPingInterval:    time.Second,
		WSWriteTimeout:    time.Second,
	}
	db := helpers.NewTestSQLiteStore(t)
	registry, err := agents.DefaultRegistry(extractor, inf)
	if err != nil {
		t.Fatalf("DefaultRegistry failed: %v", err)
	}
	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	eventBus := bus.New(cfg.TimelineWindow)
	svc := service.New(db, eventBus, registry, cfg, policyEngine)
	h := hub.NewHub()
	go h.Run()
	return NewServer(cfg, h, svc, eventBus), svc, h
}

func newConn(t *testing.T, h *hub.Hub) *hub.Connection {
	t.Helper()
	conn := h.NewConnection(nil)
	h.Register(conn)
	deadline := time.Now().Add(2 * time.Second)
	for h.GetConnectionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(time.Millisecond)
	}
	return conn
}

func nextFrame(t *testing.T, conn *hub.Connection) []byte {
	t.Helper()
	select {
	case data := <-conn.Send:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
	return nil
}

func frameType(t *testing.T, data []byte) string {
	t.Helper()
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		t.Fatalf("bad frame %s: %v", data, err)
	}
	return base.Type
}

func doHello(t *testing.T, s *Server, conn *hub.Connection) {
	t.Helper()
	s.handleMessage(conn, []byte(`{"type":"hello"}`))
	if ft := frameType(t, nextFrame(t, conn)); ft != TypeHelloAck {
		t.Fatalf("expected hello_ack, got %s", ft)
	}
}

func submitRun(t *testing.T, svc *service.Service) string {
	t.Helper()
	resp, err := svc.Submit(context.Background(), domain.SubmitRequest{
		VideoRef: "file:///videos/lecture.mp4",
		Config:   domain.RunConfig{SampleRate: 0.1},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return resp.RunID
}

func waitTerminal(t *testing.T, svc *service.Service, runID string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		run, err := svc.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status.IsTerminal() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal state")
}

func TestSubscribeRequiresHello(t *testing.T) {
	s, _, h := newTestServer(t, media.NewMockExtractor(), inference.NewMockClient(), "")
	conn := newConn(t, h)

	s.handleMessage(conn, []byte(`{"type":"subscribe_run","run_id":"run_x"}`))

	var errMsg ErrorMessage
	if err := json.Unmarshal(nextFrame(t, conn), &errMsg); err != nil {
		t.Fatalf("bad error frame: %v", err)
	}
	if errMsg.Type != TypeError || errMsg.Code != ErrorCodeHelloRequired {
		t.Fatalf("expected hello_required error, got %+v", errMsg)
	}
}

func TestHelloRejectsBadAPIKey(t *testing.T) {
	s, _, h := newTestServer(t, media.NewMockExtractor(), inference.NewMockClient(), "secret")
	conn := newConn(t, h)

	s.handleMessage(conn, []byte(`{"type":"hello","api_key":"wrong"}`))

	var errMsg ErrorMessage
	if err := json.Unmarshal(nextFrame(t, conn), &errMsg); err != nil {
		t.Fatalf("bad error frame: %v", err)
	}
	if errMsg.Code != ErrorCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", errMsg)
	}
	if conn.IsReady() {
		t.Fatal("rejected hello must not mark the connection ready")
	}
}

func TestSubscribeUnknownRun(t *testing.T) {
	s, _, h := newTestServer(t, media.NewMockExtractor(), inference.NewMockClient(), "")
	conn := newConn(t, h)
	doHello(t, s, conn)

	s.handleMessage(conn, []byte(`{"type":"subscribe_run","run_id":"run_ghost"}`))

	var errMsg ErrorMessage
	if err := json.Unmarshal(nextFrame(t, conn), &errMsg); err != nil {
		t.Fatalf("bad error frame: %v", err)
	}
	if errMsg.Code != ErrorCodeRunNotFound {
		t.Fatalf("expected run_not_found, got %+v", errMsg)
	}
}

func TestSubscribeSeedsSnapshot(t *testing.T) {
	s, svc, h := newTestServer(t, media.NewMockExtractor(), inference.NewMockClient(), "")
	runID := submitRun(t, svc)
	waitTerminal(t, svc, runID)
	time.Sleep(50 * time.Millisecond)

	conn := newConn(t, h)
	doHello(t, s, conn)
	s.handleMessage(conn, []byte(fmt.Sprintf(`{"type":"subscribe_run","run_id":"%s"}`, runID)))

	var subscribed SubscribedMessage
	if err := json.Unmarshal(nextFrame(t, conn), &subscribed); err != nil {
		t.Fatalf("bad subscribed frame: %v", err)
	}
	if subscribed.Type != TypeSubscribed || subscribed.Replayed == 0 {
		t.Fatalf("expected subscribed with a populated window, got %+v", subscribed)
	}

	var snap SnapshotMessage
	if err := json.Unmarshal(nextFrame(t, conn), &snap); err != nil {
		t.Fatalf("bad snapshot frame: %v", err)
	}
	if snap.Type != TypeSnapshot {
		t.Fatalf("expected snapshot frame, got %s", snap.Type)
	}
	if snap.Snapshot.Run.Status != domain.RunStatusCompleted {
		t.Fatalf("snapshot run status %s", snap.Snapshot.Run.Status)
	}
	if len(snap.Snapshot.Agents) != 8 {
		t.Fatalf("snapshot carries %d agent records, want 8", len(snap.Snapshot.Agents))
	}
	timeline := snap.Snapshot.Timeline
	if len(timeline) == 0 || timeline[len(timeline)-1].Type != domain.EventTypeRunCompleted {
		t.Fatalf("snapshot timeline must end with run_completed, got %d events", len(timeline))
	}
	if len(timeline) != subscribed.Replayed {
		t.Fatalf("subscribed reported %d events, snapshot carries %d", subscribed.Replayed, len(timeline))
	}
}

func TestLiveEventsFanOutThroughHub(t *testing.T) {
	// A glacial extractor keeps the run alive while both watchers attach.
	s, svc, h := newTestServer(t, &stuckExtractor{}, inference.NewMockClient(), "")
	runID := submitRun(t, svc)
	time.Sleep(50 * time.Millisecond)

	watchers := []*hub.Connection{newConn(t, h), newConn(t, h)}
	for _, conn := range watchers {
		doHello(t, s, conn)
		s.handleMessage(conn, []byte(fmt.Sprintf(`{"type":"subscribe_run","run_id":"%s"}`, runID)))
		if ft := frameType(t, nextFrame(t, conn)); ft != TypeSubscribed {
			t.Fatalf("expected subscribed, got %s", ft)
		}
		if ft := frameType(t, nextFrame(t, conn)); ft != TypeSnapshot {
			t.Fatalf("expected snapshot, got %s", ft)
		}
	}

	if err := svc.Cancel(context.Background(), runID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// Every watcher sees the terminal event through the broadcast loop.
	for i, conn := range watchers {
		deadline := time.Now().Add(5 * time.Second)
		for {
			if time.Now().After(deadline) {
				t.Fatalf("watcher %d never received run_cancelled", i)
			}
			frame := nextFrame(t, conn)
			if frameType(t, frame) != TypeEvent {
				continue
			}
			var evt EventMessage
			if err := json.Unmarshal(frame, &evt); err != nil {
				t.Fatalf("bad event frame: %v", err)
			}
			if evt.Event.Type == domain.EventTypeRunCancelled {
				break
			}
		}
	}

	waitTerminal(t, svc, runID)
}

func TestUnsubscribeTearsDownSharedFeed(t *testing.T) {
	s, svc, h := newTestServer(t, &stuckExtractor{}, inference.NewMockClient(), "")
	eventBus := s.bus
	runID := submitRun(t, svc)
	time.Sleep(50 * time.Millisecond)

	first := newConn(t, h)
	second := newConn(t, h)
	for _, conn := range []*hub.Connection{first, second} {
		doHello(t, s, conn)
		s.handleMessage(conn, []byte(fmt.Sprintf(`{"type":"subscribe_run","run_id":"%s"}`, runID)))
		nextFrame(t, conn) // subscribed
		nextFrame(t, conn) // snapshot
	}

	// Two watchers share one bus subscription.
	if n := eventBus.SubscriberCount(runID); n != 1 {
		t.Fatalf("expected one shared subscription, got %d", n)
	}

	s.handleMessage(first, []byte(fmt.Sprintf(`{"type":"unsubscribe_run","run_id":"%s"}`, runID)))
	if ft := frameType(t, nextFrame(t, first)); ft != TypeUnsubscribed {
		t.Fatalf("expected unsubscribed, got %s", ft)
	}
	if n := eventBus.SubscriberCount(runID); n != 1 {
		t.Fatalf("feed must survive while a watcher remains, got %d subscriptions", n)
	}

	s.handleMessage(second, []byte(fmt.Sprintf(`{"type":"unsubscribe_run","run_id":"%s"}`, runID)))
	if ft := frameType(t, nextFrame(t, second)); ft != TypeUnsubscribed {
		t.Fatalf("expected unsubscribed, got %s", ft)
	}
	if n := eventBus.SubscriberCount(runID); n != 0 {
		t.Fatalf("last unsubscribe must drop the shared subscription, got %d", n)
	}

	if err := svc.Cancel(context.Background(), runID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitTerminal(t, svc, runID)
}

// stuckExtractor blocks until its context is cancelled.
type stuckExtractor struct{}

func (s *stuckExtractor) Extract(ctx context.Context, videoRef string, sampleRate float64) (*media.Extraction, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
