package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"brake-to-pause/internal/motion"
)

// AutoStopDelay is how long the controller may sit without a resume
// before it stops itself.
const AutoStopDelay = 30 * time.Minute

// StopReason records why a session ended.
type StopReason string

const (
	StopUser     StopReason = "user"
	StopAuto     StopReason = "auto"
	StopShutdown StopReason = "shutdown"
)

// SessionState is the mutable state of a running session.
type SessionState struct {
	Enabled         bool `json:"enabled"`
	HasAudioFocus   bool `json:"hasAudioFocus"`
	TimerInProgress bool `json:"timerInProgress"`
	LocationActive  bool `json:"locationActive"`
	ActivityActive  bool `json:"activityActive"`
}

// Paused reports whether the controller is currently holding playback.
func (s SessionState) Paused() bool {
	return s.HasAudioFocus
}

// EventType identifies a controller event delivered to observers.
type EventType string

const (
	EventStarted   EventType = "started"
	EventStopped   EventType = "stopped"
	EventPaused    EventType = "paused"
	EventResumed   EventType = "resumed"
	EventFocusLost EventType = "focusLost"
)

// Event is delivered to observers after the state change it describes.
type Event struct {
	Type   EventType
	At     time.Time
	State  SessionState
	Config motion.Config
	Reason StopReason
}

// Controller decides when to pause and resume playback from motion
// events. All of its state lives on a single dispatch loop; its exported
// methods are safe to call from any goroutine.
type Controller struct {
	host  Host
	clock clockwork.Clock
	loop  *Loop
	ctx   context.Context

	// Owned by the loop.
	cfg         motion.Config
	state       SessionState
	timer       clockwork.Timer
	timerGen    uint64
	locationSub Subscription
	activitySub Subscription
	closed      bool

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObsID int
}

// New creates a controller bound to host. A nil clock means the real
// clock.
func New(ctx context.Context, host Host, clock clockwork.Clock) (*Controller, error) {
	if host.Audio == nil || host.Notifier == nil || host.Location == nil || host.Activities == nil {
		return nil, fmt.Errorf("host is missing one or more ports")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Controller{
		host:      host,
		clock:     clock,
		loop:      NewLoop(ctx),
		ctx:       ctx,
		observers: make(map[int]func(Event)),
	}, nil
}

// Observe registers fn for every controller event. fn runs on the
// dispatch loop and must not call back into the controller synchronously.
// The returned func removes the observer.
func (c *Controller) Observe(fn func(Event)) func() {
	c.obsMu.Lock()
	id := c.nextObsID
	c.nextObsID++
	c.observers[id] = fn
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// OnStarted registers fn to run whenever a session starts.
func (c *Controller) OnStarted(fn func(motion.Config)) func() {
	return c.Observe(func(e Event) {
		if e.Type == EventStarted {
			fn(e.Config)
		}
	})
}

// OnStopped registers fn to run whenever a session stops.
func (c *Controller) OnStopped(fn func(StopReason)) func() {
	return c.Observe(func(e Event) {
		if e.Type == EventStopped {
			fn(e.Reason)
		}
	})
}

// Start begins a session with cfg. It returns ErrAlreadyEnabled if a
// session is already running.
func (c *Controller) Start(cfg motion.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return c.run(func() error { return c.start(cfg) })
}

// Stop ends the running session at the user's request.
func (c *Controller) Stop() error {
	return c.run(func() error {
		if !c.state.Enabled {
			return ErrNotEnabled
		}
		c.stop(StopUser)
		return nil
	})
}

// Transition delivers an activity transition.
func (c *Controller) Transition(activity motion.ActivityType, entering bool) error {
	return c.run(func() error {
		if !c.state.Enabled {
			return ErrNotEnabled
		}
		if !c.state.ActivityActive {
			log.Debug().Str("activity", activity.String()).Msg("control: transition dropped, no activity subscription")
			return nil
		}
		c.onTransition(activity, entering)
		return nil
	})
}

// SpeedSample delivers a ground speed in km/h.
func (c *Controller) SpeedSample(kph float64) error {
	if err := motion.ValidateSpeed(kph); err != nil {
		return err
	}
	return c.run(func() error {
		if !c.state.Enabled {
			return ErrNotEnabled
		}
		if !c.state.LocationActive {
			log.Debug().Float64("kph", kph).Msg("control: speed sample dropped, location sampling off")
			return nil
		}
		c.onSpeedSample(kph)
		return nil
	})
}

// Location delivers a raw location fix. Fixes without speed are ignored.
func (c *Controller) Location(loc motion.Location) error {
	sample, ok := motion.SpeedSampleFrom(loc)
	if !ok {
		return nil
	}
	return c.SpeedSample(sample.Kph)
}

// Dispatch delivers any motion event.
func (c *Controller) Dispatch(e motion.Event) error {
	switch e.Kind {
	case motion.EventTransition:
		return c.Transition(e.Transition.Activity, e.Transition.Entering)
	case motion.EventSpeedSample:
		return c.SpeedSample(e.Speed.Kph)
	default:
		return fmt.Errorf("unknown motion event kind: %q", e.Kind)
	}
}

// AudioFocusLost tells the controller the host revoked its audio focus.
func (c *Controller) AudioFocusLost() error {
	return c.run(func() error {
		c.onAudioFocusLost()
		return nil
	})
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() SessionState {
	var s SessionState
	c.loop.Do(func() { s = c.state })
	return s
}

// Config returns the configuration of the running or last session.
func (c *Controller) Config() motion.Config {
	var cfg motion.Config
	c.loop.Do(func() { cfg = c.cfg.Clone() })
	return cfg
}

// Close stops any running session and shuts the dispatch loop down. If the
// controller still holds focus it first takes lasting focus so playback
// stays paused after it is gone.
func (c *Controller) Close() error {
	c.loop.Do(func() {
		if c.closed {
			return
		}
		if c.state.HasAudioFocus {
			if err := c.host.Audio.RequestLasting(); err != nil {
				log.Warn().Err(err).Msg("control: request lasting audio focus")
			}
		}
		if c.state.Enabled {
			c.stop(StopShutdown)
		}
		c.closed = true
	})
	c.loop.Stop()
	return nil
}

// run executes fn on the loop and returns its error.
func (c *Controller) run(fn func() error) error {
	var err error
	if !c.loop.Do(func() {
		if c.closed {
			err = ErrClosed
			return
		}
		err = fn()
	}) {
		return ErrClosed
	}
	return err
}

func (c *Controller) start(cfg motion.Config) error {
	if c.state.Enabled {
		return ErrAlreadyEnabled
	}

	c.cfg = cfg.Clone()
	// Focus is not released on stop, so it can still be held from the
	// previous session. The shown notification has to match it.
	c.state = SessionState{Enabled: true, HasAudioFocus: c.state.HasAudioFocus}
	if c.state.HasAudioFocus {
		c.notify(NotifyPaused)
	} else {
		c.notify(NotifyControlling)
	}

	c.startTimer()

	if c.cfg.UsesLocation {
		c.requestLocation()
	}
	if c.cfg.UsesActivityRecognition {
		c.requestActivities()
	}

	log.Info().
		Int("thresholdKph", c.cfg.SpeedThresholdKph).
		Bool("location", c.cfg.UsesLocation).
		Bool("activityRecognition", c.cfg.UsesActivityRecognition).
		Msg("control: playback control started")
	c.emit(Event{Type: EventStarted, Config: c.cfg.Clone()})
	return nil
}

func (c *Controller) stop(reason StopReason) {
	if c.state.TimerInProgress {
		c.stopTimer()
	}
	if c.cfg.UsesLocation {
		c.removeLocation()
	}
	if c.cfg.UsesActivityRecognition {
		c.removeActivities()
	}
	if err := c.host.Notifier.Dismiss(); err != nil {
		log.Warn().Err(err).Msg("control: dismiss notification")
	}

	c.state.Enabled = false
	log.Info().Str("reason", string(reason)).Msg("control: playback control stopped")
	c.emit(Event{Type: EventStopped, Reason: reason})
}

func (c *Controller) onTransition(activity motion.ActivityType, entering bool) {
	if entering && c.cfg.SelectedActivities.Contains(activity) {
		if c.cfg.UsesLocation {
			c.requestLocation()
		} else {
			c.resume()
		}
		return
	}

	if c.cfg.UsesLocation {
		c.removeLocation()
	}
	c.pause()
}

func (c *Controller) onSpeedSample(kph float64) {
	if kph < float64(c.cfg.SpeedThresholdKph) {
		c.pause()
	} else {
		c.resume()
	}
}

func (c *Controller) pause() {
	if !c.state.HasAudioFocus {
		if err := c.host.Audio.RequestTransient(); err != nil {
			log.Warn().Err(err).Msg("control: request audio focus")
		}
		c.state.HasAudioFocus = true
		c.notify(NotifyPaused)
		c.emit(Event{Type: EventPaused})
	}

	if !c.state.TimerInProgress {
		c.startTimer()
	}
}

func (c *Controller) resume() {
	if c.state.HasAudioFocus {
		if err := c.host.Audio.Abandon(); err != nil {
			log.Warn().Err(err).Msg("control: abandon audio focus")
		}
		c.state.HasAudioFocus = false
		c.notify(NotifyControlling)
		c.emit(Event{Type: EventResumed})
	}

	if c.state.TimerInProgress {
		c.stopTimer()
	}
}

func (c *Controller) onAudioFocusLost() {
	if !c.state.HasAudioFocus {
		return
	}
	c.state.HasAudioFocus = false
	c.emit(Event{Type: EventFocusLost})

	if !c.state.Enabled {
		return
	}
	c.notify(NotifyControlling)
}

func (c *Controller) startTimer() {
	c.timerGen++
	gen := c.timerGen
	c.timer = c.clock.AfterFunc(AutoStopDelay, func() {
		c.loop.Post(func() { c.onTimerFired(gen) })
	})
	c.state.TimerInProgress = true
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// Invalidates a callback that already fired but has not run yet.
	c.timerGen++
	c.state.TimerInProgress = false
}

func (c *Controller) onTimerFired(gen uint64) {
	if c.closed || gen != c.timerGen || !c.state.TimerInProgress {
		return
	}
	c.timer = nil
	c.timerGen++
	c.state.TimerInProgress = false

	log.Info().Dur("after", AutoStopDelay).Msg("control: auto-stop timer fired")
	c.stop(StopAuto)
	c.notify(NotifyAutoStopped)
}

func (c *Controller) requestLocation() {
	if c.locationSub != nil {
		return
	}
	sub, err := c.host.Location.Subscribe(c.ctx)
	if errors.Is(err, ErrPermissionDenied) {
		log.Debug().Msg("control: location permission missing, not sampling")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("control: request location updates")
		return
	}
	c.locationSub = sub
	c.state.LocationActive = true
}

func (c *Controller) removeLocation() {
	if c.locationSub == nil {
		return
	}
	if err := c.locationSub.Close(); err != nil {
		log.Warn().Err(err).Msg("control: remove location updates")
	}
	c.locationSub = nil
	c.state.LocationActive = false
}

func (c *Controller) requestActivities() {
	if c.activitySub != nil {
		return
	}
	sub, err := c.host.Activities.Subscribe(c.ctx)
	if errors.Is(err, ErrPermissionDenied) {
		log.Debug().Msg("control: activity recognition permission missing")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("control: request activity transition updates")
		return
	}
	c.activitySub = sub
	c.state.ActivityActive = true
}

func (c *Controller) removeActivities() {
	if c.activitySub == nil {
		return
	}
	if err := c.activitySub.Close(); err != nil {
		log.Warn().Err(err).Msg("control: remove activity transition updates")
	}
	c.activitySub = nil
	c.state.ActivityActive = false
}

func (c *Controller) notify(kind NotificationKind) {
	if err := c.host.Notifier.Notify(NotificationFor(kind)); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("control: post notification")
	}
}

func (c *Controller) emit(e Event) {
	e.At = c.clock.Now()
	e.State = c.state

	c.obsMu.Lock()
	fns := make([]func(Event), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
