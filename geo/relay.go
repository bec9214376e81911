package geo

import (
	"context"
	"errors"
)

// ErrNoRequest is returned by Deliver when no position request is waiting
var ErrNoRequest = errors.New("geo: no position request waiting")

// Relay is a Locator fed by reports the browser page posts after running
// its own position request. Locate waits for the next report; a report
// delivered while nothing is waiting is rejected, never queued.
type Relay struct {
	reports chan Report
}

func NewRelay() *Relay {
	return &Relay{reports: make(chan Report)}
}

func (r *Relay) Locate(ctx context.Context, opts Options) (Position, error) {
	select {
	case rep := <-r.reports:
		return Reported(rep).Locate(ctx, opts)
	case <-ctx.Done():
		return Position{}, ctx.Err()
	}
}

// Deliver hands rep to the waiting Locate call. It gives up when ctx ends.
func (r *Relay) Deliver(ctx context.Context, rep Report) error {
	select {
	case r.reports <- rep:
		return nil
	case <-ctx.Done():
		return ErrNoRequest
	}
}
