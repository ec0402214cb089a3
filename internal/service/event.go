package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edu-data/mas/internal/domain"
)

// recordEvent persists a timeline event and fans it out on the bus. The
// sequence number comes from the run's in-memory counter, so emission order
// and stored order agree.
func (s *Service) recordEvent(ctx context.Context, rs *runState, eventType domain.EventType, agent, message string, payload interface{}) error {
	var payloadBytes json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		payloadBytes = b
	}

	now := time.Now()
	event := domain.TimelineEvent{
		EventID:   "evt_" + uuid.New().String()[:8],
		RunID:     rs.runID,
		Seq:       rs.nextSeq(),
		Ts:        now.UnixMilli(),
		Type:      eventType,
		Agent:     agent,
		Message:   message,
		ElapsedMs: now.Sub(rs.createdAt).Milliseconds(),
		Payload:   payloadBytes,
	}

	if err := s.store.CreateEvent(ctx, &event); err != nil {
		return err
	}
	s.bus.Publish(rs.runID, event)
	return nil
}
