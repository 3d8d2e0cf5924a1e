// Package notify is the fire-and-forget event side channel. Dispatch never
// blocks the caller and sink failures are only logged; the core scheduling
// state machine must stay free of notification-delivery failure modes.
package notify

import (
	"sync"

	"github.com/rs/zerolog"
)

const (
	EventSeriesStarted   = "recurring.series_started"
	EventSeriesCompleted = "recurring.series_completed"
	EventDealScheduled   = "recurring.deal_scheduled"
)

type Event struct {
	Type    string                 `json:"type"`
	TeamID  uint                   `json:"team_id"`
	Payload map[string]interface{} `json:"payload"`
}

// Sink delivers one event to one destination.
type Sink interface {
	Send(event Event) error
}

type Service struct {
	sinks []Sink
	log   zerolog.Logger
	wg    sync.WaitGroup
}

func NewService(logger zerolog.Logger, sinks ...Sink) *Service {
	return &Service{
		sinks: sinks,
		log:   logger.With().Str("component", "notify").Logger(),
	}
}

// Dispatch fans the event out to every sink on a background goroutine.
func (s *Service) Dispatch(event Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, sink := range s.sinks {
			if err := sink.Send(event); err != nil {
				s.log.Error().Str("event", event.Type).Uint("team_id", event.TeamID).
					Err(err).Msg("failed to deliver notification")
			}
		}
	}()
}

// Flush blocks until every in-flight dispatch has finished. Used at shutdown
// and in tests.
func (s *Service) Flush() {
	s.wg.Wait()
}
