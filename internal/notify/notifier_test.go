package notify

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *captureSink) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatchFansOutToAllSinks(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	svc := NewService(zerolog.Nop(), a, b)

	svc.Dispatch(Event{Type: EventSeriesStarted, TeamID: 1, Payload: map[string]interface{}{"series": "abc"}})
	svc.Dispatch(Event{Type: EventDealScheduled, TeamID: 1})
	svc.Flush()

	assert.Equal(t, 2, a.count())
	assert.Equal(t, 2, b.count())
	// Dispatches run concurrently, so check membership rather than order.
	got := []string{a.events[0].Type, a.events[1].Type}
	assert.ElementsMatch(t, []string{EventSeriesStarted, EventDealScheduled}, got)
}

func TestDispatchSurvivesSinkFailure(t *testing.T) {
	broken := &captureSink{err: errors.New("webhook down")}
	healthy := &captureSink{}
	svc := NewService(zerolog.Nop(), broken, healthy)

	svc.Dispatch(Event{Type: EventSeriesCompleted, TeamID: 3})
	svc.Flush()

	// The failing sink never blocks delivery to the others.
	assert.Equal(t, 1, healthy.count())
	assert.Equal(t, EventSeriesCompleted, healthy.events[0].Type)
}

func TestNoSinksIsFine(t *testing.T) {
	svc := NewService(zerolog.Nop())
	svc.Dispatch(Event{Type: EventSeriesStarted})
	svc.Flush()
}
