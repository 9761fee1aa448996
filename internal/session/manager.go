package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"brake-to-pause/internal/control"
	"brake-to-pause/internal/motion"
)

const (
	defaultRingBufCapacity  = 256
	defaultSubscriberBufCap = 100
	defaultRecordTimeout    = 5 * time.Second
)

// ErrNoSession is returned when no session has been started yet.
var ErrNoSession = errors.New("no session")

// Recorder persists finished sessions and pause spans.
type Recorder interface {
	RecordSession(ctx context.Context, s Session) error
	RecordPause(ctx context.Context, span PauseSpan) error
}

// Controller is the part of the pause controller the manager drives.
type Controller interface {
	Start(cfg motion.Config) error
	Stop() error
	Transition(activity motion.ActivityType, entering bool) error
	SpeedSample(kph float64) error
	Location(loc motion.Location) error
	AudioFocusLost() error
	Snapshot() control.SessionState
	Observe(fn func(control.Event)) func()
	Close() error
}

// Manager owns the playback-control session of the daemon: it starts and
// stops the controller, keeps the session record and fans session events
// out to subscribers.
type Manager struct {
	ctrl     Controller
	recorder Recorder

	startMu sync.Mutex

	mu         sync.RWMutex
	current    *Session
	nextID     string
	nextLabel  string
	pauseStart time.Time

	ringBuf     *RingBuffer[Event]
	subscribers map[string]chan Event
	subMu       sync.RWMutex

	recordWG      sync.WaitGroup
	removeObserve func()
}

// NewManager creates a session manager around ctrl. recorder may be nil.
func NewManager(ctrl Controller, recorder Recorder, eventBuffer int) *Manager {
	if eventBuffer <= 0 {
		eventBuffer = defaultRingBufCapacity
	}
	m := &Manager{
		ctrl:        ctrl,
		recorder:    recorder,
		ringBuf:     NewRingBuffer[Event](eventBuffer),
		subscribers: make(map[string]chan Event),
	}
	m.removeObserve = ctrl.Observe(m.handleEvent)
	return m
}

// Start begins a new session with cfg.
func (m *Manager) Start(cfg motion.Config, label string) (*Session, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	m.nextID = uuid.New().String()
	m.nextLabel = label
	m.mu.Unlock()

	if err := m.ctrl.Start(cfg); err != nil {
		return nil, err
	}
	return m.Get()
}

// Stop ends the running session. It is the user's stop action.
func (m *Manager) Stop() error {
	if err := m.ctrl.Stop(); err != nil {
		if errors.Is(err, control.ErrNotEnabled) {
			if _, getErr := m.Get(); getErr != nil {
				return getErr
			}
		}
		return err
	}
	return nil
}

// Get returns a copy of the current or most recent session.
func (m *Manager) Get() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return nil, ErrNoSession
	}
	s := *m.current
	s.Config = m.current.Config.Clone()
	return &s, nil
}

// State returns the controller's live state.
func (m *Manager) State() control.SessionState {
	return m.ctrl.Snapshot()
}

// Transition forwards an activity transition to the controller.
func (m *Manager) Transition(activity motion.ActivityType, entering bool) error {
	return m.ctrl.Transition(activity, entering)
}

// Location forwards a location fix to the controller.
func (m *Manager) Location(loc motion.Location) error {
	return m.ctrl.Location(loc)
}

// SpeedSample forwards a speed sample to the controller.
func (m *Manager) SpeedSample(kph float64) error {
	return m.ctrl.SpeedSample(kph)
}

// AudioFocusLost forwards the host's focus revocation to the controller.
func (m *Manager) AudioFocusLost() error {
	return m.ctrl.AudioFocusLost()
}

// handleEvent runs on the controller's dispatch loop.
func (m *Manager) handleEvent(e control.Event) {
	m.mu.Lock()
	var span *PauseSpan
	var finished *Session

	switch e.Type {
	case control.EventStarted:
		m.current = &Session{
			ID:        m.nextID,
			State:     StateActive,
			Label:     m.nextLabel,
			Config:    e.Config.Clone(),
			StartedAt: e.At,
		}
		m.pauseStart = time.Time{}
		if e.State.HasAudioFocus {
			m.current.State = StatePaused
			m.pauseStart = e.At
		}

	case control.EventPaused:
		if m.current != nil {
			m.current.State = StatePaused
			m.pauseStart = e.At
		}

	case control.EventResumed, control.EventFocusLost:
		span = m.closePauseSpan(e.At)
		if m.current != nil && m.current.State == StatePaused {
			m.current.State = StateActive
		}

	case control.EventStopped:
		span = m.closePauseSpan(e.At)
		if m.current != nil {
			stoppedAt := e.At
			m.current.State = StateStopped
			m.current.StoppedAt = &stoppedAt
			m.current.StopReason = string(e.Reason)
			s := *m.current
			finished = &s
		}
	}

	if m.current == nil {
		m.mu.Unlock()
		return
	}
	event := Event{
		SessionID: m.current.ID,
		Type:      EventType(e.Type),
		State:     m.current.State,
		Reason:    string(e.Reason),
		Timestamp: e.At,
	}
	m.mu.Unlock()

	m.ringBuf.Write(event)
	m.fanOut(event)

	if span != nil {
		m.record(func(ctx context.Context) error { return m.recorder.RecordPause(ctx, *span) })
	}
	if finished != nil {
		m.record(func(ctx context.Context) error { return m.recorder.RecordSession(ctx, *finished) })
	}
}

// closePauseSpan ends the open pause span, if any. Caller holds m.mu.
func (m *Manager) closePauseSpan(at time.Time) *PauseSpan {
	if m.current == nil || m.pauseStart.IsZero() {
		return nil
	}
	span := &PauseSpan{SessionID: m.current.ID, Start: m.pauseStart, End: at}
	m.pauseStart = time.Time{}
	return span
}

// record writes to the recorder off the dispatch loop.
func (m *Manager) record(fn func(ctx context.Context) error) {
	if m.recorder == nil {
		return
	}
	m.recordWG.Add(1)
	go func() {
		defer m.recordWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), defaultRecordTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Msg("session: record history")
		}
	}()
}

// fanOut sends an event to all subscribers.
func (m *Manager) fanOut(event Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for _, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber channel full, drop the event.
		}
	}
}

// Subscribe creates a channel that receives session events. It returns
// the subscription ID, the channel and the buffered history.
func (m *Manager) Subscribe() (string, <-chan Event, []Event) {
	subID := uuid.New().String()
	ch := make(chan Event, defaultSubscriberBufCap)

	// Get buffered history before subscribing to avoid race.
	history := m.ringBuf.ReadAll()

	m.subMu.Lock()
	m.subscribers[subID] = ch
	m.subMu.Unlock()

	return subID, ch, history
}

// Unsubscribe removes a subscriber.
func (m *Manager) Unsubscribe(subID string) {
	m.subMu.Lock()
	if ch, exists := m.subscribers[subID]; exists {
		close(ch)
		delete(m.subscribers, subID)
	}
	m.subMu.Unlock()
}

// History returns the buffered event log.
func (m *Manager) History() []Event {
	return m.ringBuf.ReadAll()
}

// Shutdown closes the controller, waits for pending history writes and
// closes all subscriber channels.
func (m *Manager) Shutdown() error {
	if err := m.ctrl.Close(); err != nil {
		return fmt.Errorf("close controller: %w", err)
	}
	m.removeObserve()
	m.recordWG.Wait()

	m.subMu.Lock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.subMu.Unlock()
	return nil
}
