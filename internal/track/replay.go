package track

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog/log"

	"brake-to-pause/internal/control"
	"brake-to-pause/internal/motion"
)

// autoStopWait bounds how long a replay waits for the controller to act
// on a timer the fake clock has already fired.
const autoStopWait = 5 * time.Second

// Report summarises a replayed ride.
type Report struct {
	Name          string
	Samples       int
	Duration      time.Duration
	Pauses        int
	Resumes       int
	PausedFor     time.Duration
	AutoStopped   bool
	AutoStoppedAt time.Time
	FocusRequests int
	MaxKph        float64
	MeanKph       float64
	MedianKph     float64
}

type replayObserver struct {
	mu         sync.Mutex
	pauses     int
	resumes    int
	pausedFor  time.Duration
	pauseStart time.Time
	stopped    chan control.StopReason
}

func (o *replayObserver) handle(e control.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch e.Type {
	case control.EventPaused:
		o.pauses++
		o.pauseStart = e.At
	case control.EventResumed, control.EventFocusLost:
		if e.Type == control.EventResumed {
			o.resumes++
		}
		o.closePause(e.At)
	case control.EventStopped:
		o.closePause(e.At)
		select {
		case o.stopped <- e.Reason:
		default:
		}
	}
}

func (o *replayObserver) closePause(at time.Time) {
	if o.pauseStart.IsZero() {
		return
	}
	o.pausedFor += at.Sub(o.pauseStart)
	o.pauseStart = time.Time{}
}

// Replay drives a controller with the track's samples on a fake clock set
// to the ride's own timestamps, so a ride of any length replays at once.
func Replay(ctx context.Context, tr *Track, cfg motion.Config) (*Report, error) {
	clock := clockwork.NewFakeClockAt(tr.Start())
	host := control.NewLocalHost()
	ctrl, err := control.New(ctx, host.Host(), clock)
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	obs := &replayObserver{stopped: make(chan control.StopReason, 1)}
	ctrl.Observe(obs.handle)

	if err := ctrl.Start(cfg); err != nil {
		return nil, fmt.Errorf("start controller: %w", err)
	}

	// The timer is armed at start.
	timerArmedAt := clock.Now()
	if first := tr.Points[0]; first.HasActivity {
		if err := ctrl.Transition(first.Activity, true); err != nil {
			return nil, err
		}
	}

	samples := tr.Samples()
	report := &Report{Name: tr.Name}
	speeds := make(stats.Float64Data, 0, len(samples))

	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		deadline := timerArmedAt.Add(control.AutoStopDelay)
		if ctrl.Snapshot().TimerInProgress && !s.At.Before(deadline) {
			clock.Advance(deadline.Sub(clock.Now()))
			if err := waitStopped(ctx, obs.stopped); err != nil {
				return nil, err
			}
			report.AutoStopped = true
			report.AutoStoppedAt = deadline
			log.Info().Time("at", deadline).Msg("replay: auto-stop fired")
			break
		}
		clock.Advance(s.At.Sub(clock.Now()))

		timerWas := ctrl.Snapshot().TimerInProgress
		if s.HasActivity {
			if err := ctrl.Transition(s.Activity, true); err != nil {
				return nil, err
			}
		}
		loc := motion.Location{SpeedMps: s.SpeedMps, HasSpeed: true, Time: s.At}
		if err := ctrl.Location(loc); err != nil {
			return nil, err
		}
		if !timerWas && ctrl.Snapshot().TimerInProgress {
			timerArmedAt = clock.Now()
		}

		if sample, ok := motion.SpeedSampleFrom(loc); ok {
			speeds = append(speeds, sample.Kph)
		}
		report.Samples++
	}

	if !report.AutoStopped {
		if err := ctrl.Stop(); err != nil && !errors.Is(err, control.ErrNotEnabled) {
			return nil, err
		}
	}

	obs.mu.Lock()
	report.Pauses = obs.pauses
	report.Resumes = obs.resumes
	report.PausedFor = obs.pausedFor
	obs.mu.Unlock()

	report.Duration = clock.Now().Sub(tr.Start())
	report.FocusRequests = host.Stats().FocusRequests
	if len(speeds) > 0 {
		report.MaxKph, _ = speeds.Max()
		report.MeanKph, _ = speeds.Mean()
		report.MedianKph, _ = speeds.Median()
	}
	return report, nil
}

func waitStopped(ctx context.Context, stopped <-chan control.StopReason) error {
	select {
	case reason := <-stopped:
		if reason != control.StopAuto {
			return fmt.Errorf("controller stopped with reason %s, expected auto", reason)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(autoStopWait):
		return fmt.Errorf("controller did not stop within %s of its auto-stop deadline", autoStopWait)
	}
}
