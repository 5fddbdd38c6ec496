// Package poller waits for classification results of an uploaded image.
package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/rekognify/internal/logging"
	"github.com/example/rekognify/internal/recognition"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Observer is told about every state transition of a poll.
type Observer func(id string, from, to State)

// Poller drives one state machine per Fetch call. Nothing is shared between
// calls, so polls for different ids proceed independently.
type Poller struct {
	lookup   recognition.Lookup
	policy   Policy
	sleep    Sleeper
	observer Observer
	logger   *zap.Logger
}

// Option customises a Poller.
type Option func(*Poller)

// WithSleeper replaces the timer-based sleep.
func WithSleeper(s Sleeper) Option {
	return func(p *Poller) { p.sleep = s }
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(p *Poller) { p.observer = o }
}

// New returns a poller querying lookup under policy.
func New(lookup recognition.Lookup, policy Policy, logger *zap.Logger, opts ...Option) *Poller {
	p := &Poller{
		lookup: lookup,
		policy: policy,
		sleep:  sleepContext,
		logger: logger.Named("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the retry policy in use.
func (p *Poller) Policy() Policy {
	return p.policy
}

// Fetch polls until id is classified, the retry budget is spent, a lookup
// fails or ctx ends.
func (p *Poller) Fetch(ctx context.Context, id string) (*recognition.ImageInfo, error) {
	opLogger := logging.WithOperation(p.logger, "poller.fetch", id)
	state := State{Phase: Polling}

	for !state.Terminal() {
		info, err := p.lookup.Info(ctx, id)
		if err != nil && ctx.Err() != nil {
			p.transition(id, &state, State{Phase: Failed, Attempt: state.Attempt, Err: ctx.Err()})
			break
		}

		next := p.policy.Next(id, state, info, err)
		if next.Phase == Polling {
			delay := p.policy.Delay(state.Attempt)
			opLogger.Debug("classification not ready, backing off",
				zap.Int("attempt", state.Attempt+1),
				zap.Duration("delay", delay),
			)
			if err := p.sleep(ctx, delay); err != nil {
				next = State{Phase: Failed, Attempt: state.Attempt, Err: err}
			}
		}
		p.transition(id, &state, next)
	}

	if state.Phase == Failed {
		wrapped := logging.NewOperationError("poller.fetch", id, state.Err)
		opLogger.Warn("polling failed", zap.Error(state.Err), zap.Int("attempts", state.Attempt+1))
		return nil, wrapped
	}

	opLogger.Info("classification ready",
		zap.Int("attempts", state.Attempt+1),
		zap.Int("labels", len(state.Info.Labels)),
	)
	return state.Info, nil
}

func (p *Poller) transition(id string, state *State, next State) {
	if p.observer != nil {
		p.observer(id, *state, next)
	}
	*state = next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
