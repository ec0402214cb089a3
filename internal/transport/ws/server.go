package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/edu-data/mas/internal/bus"
	"github.com/edu-data/mas/internal/config"
	"github.com/edu-data/mas/internal/domain"
	"github.com/edu-data/mas/internal/hub"
	"github.com/edu-data/mas/internal/service"
)

const maxMessageSize = 4096

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	service  *service.Service
	bus      *bus.Bus
	upgrader websocket.Upgrader

	// A watched run has exactly one bus subscription, fanned out to every
	// watcher through the hub broadcast loop. feeds refcounts them; watches
	// remembers each connection's runs for teardown.
	mu      sync.Mutex
	feeds   map[string]*runFeed
	watches map[string]map[string]bool
}

// runFeed is the shared bus subscription behind all watchers of one run.
type runFeed struct {
	sub  *bus.Subscriber
	refs int
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, svc *service.Service, eventBus *bus.Bus) *Server {
	return &Server{
		cfg:     cfg,
		hub:     h,
		service: svc,
		bus:     eventBus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Allow all origins for MVP
				return true
			},
		},
		feeds:   make(map[string]*runFeed),
		watches: make(map[string]map[string]bool),
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(maxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

func (s *Server) readTimeout() time.Duration {
	return 2 * s.cfg.WSPingInterval
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.dropWatches(conn)
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var baseMsg BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case TypeHello:
		s.handleHello(conn, data)
	case TypeSubscribeRun:
		s.handleSubscribeRun(conn, data)
	case TypeUnsubscribeRun:
		s.handleUnsubscribeRun(conn, data)
	case TypeCancelRun:
		s.handleCancelRun(conn, data)
	default:
		s.sendError(conn, "", ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleHello handles the hello handshake message.
func (s *Server) handleHello(conn *hub.Connection, data []byte) {
	var msg HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid hello message")
		return
	}

	if s.cfg.APIKey != "" && msg.APIKey != s.cfg.APIKey {
		s.sendError(conn, "", ErrorCodeUnauthorized, "invalid api_key")
		return
	}

	conn.MarkReady()

	ack := HelloAckMessage{
		BaseMessage: BaseMessage{
			Type:      TypeHelloAck,
			Ts:        time.Now().UnixMilli(),
			RequestID: msg.RequestID,
		},
		ConnectionID: conn.ID,
	}
	s.hub.SendJSONToConnection(conn, ack)

	log.Printf("Hello handshake completed for connection: %s", conn.ID)
}

// handleSubscribeRun attaches a connection to a run's live timeline. A fresh
// subscriber is seeded with a snapshot (run row, agent records, trailing
// timeline window); a client reconnecting with after_seq gets the stored
// events past its cursor instead. Live events then arrive through the shared
// run feed and the hub broadcast loop.
func (s *Server) handleSubscribeRun(conn *hub.Connection, data []byte) {
	var msg SubscribeRunMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid subscribe_run message")
		return
	}
	if !conn.IsReady() {
		s.sendError(conn, msg.RunID, ErrorCodeHelloRequired, "must send hello first")
		return
	}
	if msg.RunID == "" {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "run_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := s.service.GetRun(ctx, msg.RunID)
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			s.sendError(conn, msg.RunID, ErrorCodeRunNotFound, "run not found")
		} else {
			s.sendError(conn, msg.RunID, ErrorCodeInternalError, err.Error())
		}
		return
	}

	if s.hub.IsWatching(conn, msg.RunID) {
		s.sendError(conn, msg.RunID, ErrorCodeInvalidMessage, "already subscribed")
		return
	}

	// Watch first, then attach the feed, then read the seed data. Any event
	// published after the seed read is broadcast to an already-watching
	// connection, so nothing is lost; the boundary overlap is deduped by
	// the client on seq.
	s.hub.WatchRun(conn, msg.RunID)
	s.trackWatch(conn, msg.RunID)

	if msg.AfterSeq > 0 {
		stored, err := s.service.Events(ctx, msg.RunID, msg.AfterSeq, 0)
		if err != nil {
			log.Printf("ERROR: failed to load stored events: %v", err)
			stored = nil
		}
		s.sendSubscribed(conn, msg, len(stored))
		for _, event := range stored {
			s.sendEvent(conn, event)
		}
		return
	}

	records, err := s.service.AgentRecords(ctx, msg.RunID)
	if err != nil {
		log.Printf("ERROR: failed to load agent records: %v", err)
	}
	window := s.bus.Window(msg.RunID)

	s.sendSubscribed(conn, msg, len(window))
	s.hub.SendJSONToConnection(conn, SnapshotMessage{
		BaseMessage: BaseMessage{
			Type:      TypeSnapshot,
			Ts:        time.Now().UnixMilli(),
			RequestID: msg.RequestID,
			RunID:     msg.RunID,
		},
		Snapshot: domain.RunSnapshot{Run: *run, Agents: records, Timeline: window},
	})
}

func (s *Server) sendSubscribed(conn *hub.Connection, msg SubscribeRunMessage, replayed int) {
	s.hub.SendJSONToConnection(conn, SubscribedMessage{
		BaseMessage: BaseMessage{
			Type:      TypeSubscribed,
			Ts:        time.Now().UnixMilli(),
			RequestID: msg.RequestID,
			RunID:     msg.RunID,
		},
		Replayed: replayed,
	})
}

// pumpRun fans a run's live events out to every watcher through the hub. It
// exits when the feed's channel closes, either on the terminal event or when
// the last watcher detaches.
func (s *Server) pumpRun(runID string, sub *bus.Subscriber) {
	for event := range sub.C {
		if err := s.hub.BroadcastJSON(runID, EventMessage{
			BaseMessage: BaseMessage{
				Type:  TypeEvent,
				Ts:    time.Now().UnixMilli(),
				RunID: event.RunID,
			},
			Event: event,
		}); err != nil {
			log.Printf("WARN: failed to broadcast event for run %s: %v", runID, err)
		}
	}

	s.mu.Lock()
	if feed, ok := s.feeds[runID]; ok && feed.sub.ID == sub.ID {
		delete(s.feeds, runID)
	}
	s.mu.Unlock()
}

func (s *Server) sendEvent(conn *hub.Connection, event domain.TimelineEvent) {
	err := s.hub.SendJSONToConnection(conn, EventMessage{
		BaseMessage: BaseMessage{
			Type:  TypeEvent,
			Ts:    time.Now().UnixMilli(),
			RunID: event.RunID,
		},
		Event: event,
	})
	if err != nil {
		log.Printf("WARN: dropping event for connection %s: %v", conn.ID, err)
	}
}

// handleUnsubscribeRun detaches a connection from a run.
func (s *Server) handleUnsubscribeRun(conn *hub.Connection, data []byte) {
	var msg UnsubscribeRunMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid unsubscribe_run message")
		return
	}
	if !conn.IsReady() {
		s.sendError(conn, msg.RunID, ErrorCodeHelloRequired, "must send hello first")
		return
	}
	if msg.RunID == "" {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "run_id is required")
		return
	}

	s.hub.UnwatchRun(conn, msg.RunID)
	s.untrackWatch(conn, msg.RunID)

	s.hub.SendJSONToConnection(conn, BaseMessage{
		Type:      TypeUnsubscribed,
		Ts:        time.Now().UnixMilli(),
		RequestID: msg.RequestID,
		RunID:     msg.RunID,
	})
}

// handleCancelRun handles run cancellation requests.
func (s *Server) handleCancelRun(conn *hub.Connection, data []byte) {
	var msg CancelRunMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid cancel_run message")
		return
	}
	if !conn.IsReady() {
		s.sendError(conn, msg.RunID, ErrorCodeHelloRequired, "must send hello first")
		return
	}
	if msg.RunID == "" {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "run_id is required")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.service.Cancel(ctx, msg.RunID); err != nil {
			log.Printf("Cancel run failed: %v", err)
			if errors.Is(err, service.ErrRunNotFound) {
				s.sendError(conn, msg.RunID, ErrorCodeRunNotFound, "run not found")
			} else {
				s.sendError(conn, msg.RunID, ErrorCodeInternalError, err.Error())
			}
			return
		}
		log.Printf("Run cancellation requested: run_id=%s", msg.RunID)
	}()
}

// trackWatch records the watch and attaches the run's shared feed, starting
// it on the first watcher.
func (s *Server) trackWatch(conn *hub.Connection, runID string) {
	s.mu.Lock()
	if s.watches[conn.ID] == nil {
		s.watches[conn.ID] = make(map[string]bool)
	}
	s.watches[conn.ID][runID] = true

	if feed, ok := s.feeds[runID]; ok {
		feed.refs++
		s.mu.Unlock()
		return
	}
	sub, _ := s.bus.Subscribe(runID)
	s.feeds[runID] = &runFeed{sub: sub, refs: 1}
	s.mu.Unlock()

	go s.pumpRun(runID, sub)
}

// untrackWatch releases one watch; the last watcher tears the feed down.
func (s *Server) untrackWatch(conn *hub.Connection, runID string) {
	s.mu.Lock()
	if !s.watches[conn.ID][runID] {
		s.mu.Unlock()
		return
	}
	delete(s.watches[conn.ID], runID)
	if len(s.watches[conn.ID]) == 0 {
		delete(s.watches, conn.ID)
	}

	feed := s.feeds[runID]
	if feed != nil {
		feed.refs--
		if feed.refs > 0 {
			feed = nil
		} else {
			delete(s.feeds, runID)
		}
	}
	s.mu.Unlock()

	if feed != nil {
		// Closing the subscription ends pumpRun.
		s.bus.Unsubscribe(runID, feed.sub)
	}
}

// dropWatches releases every watch of a closing connection. The hub removes
// the connection from watcher sets on unregister.
func (s *Server) dropWatches(conn *hub.Connection) {
	s.mu.Lock()
	runIDs := make([]string, 0, len(s.watches[conn.ID]))
	for runID := range s.watches[conn.ID] {
		runIDs = append(runIDs, runID)
	}
	s.mu.Unlock()

	for _, runID := range runIDs {
		s.untrackWatch(conn, runID)
	}
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, runID, code, message string) {
	errMsg := ErrorMessage{
		BaseMessage: BaseMessage{
			Type:  TypeError,
			Ts:    time.Now().UnixMilli(),
			RunID: runID,
		},
		Code:    code,
		Message: message,
	}
	s.hub.SendJSONToConnection(conn, errMsg)
}
