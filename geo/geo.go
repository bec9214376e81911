// Package geo is the device geolocation primitive used by the signing flow.
// A Locator is only ever invoked after the signer granted consent.
package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Browser PositionError codes
const (
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

var (
	ErrInvalidPosition = errors.New("geo: invalid position")
	ErrNoFix           = errors.New("geo: no position reported")
)

// Options mirrors the options passed to the device position request
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
}

// Position is a device fix
type Position struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// Valid reports whether the coordinates are usable
func (p Position) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Locator obtains the current device position
type Locator interface {
	Locate(ctx context.Context, opts Options) (Position, error)
}

// LocatorFunc adapts a function to the Locator interface
type LocatorFunc func(ctx context.Context, opts Options) (Position, error)

func (f LocatorFunc) Locate(ctx context.Context, opts Options) (Position, error) {
	return f(ctx, opts)
}

// Static always returns the same position
type Static Position

func (s Static) Locate(ctx context.Context, _ Options) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	p := Position(s)
	if !p.Valid() {
		return Position{}, ErrInvalidPosition
	}
	return p, nil
}

// Report is what a browser page sends back after running its own
// position request: either a fix or a PositionError code.
type Report struct {
	Position  *Position `json:"position,omitempty"`
	ErrorCode int       `json:"errorCode,omitempty"`
}

// Reported returns a Locator that replays a browser report
func Reported(r Report) Locator {
	return LocatorFunc(func(ctx context.Context, _ Options) (Position, error) {
		if err := ctx.Err(); err != nil {
			return Position{}, err
		}
		if r.ErrorCode != 0 {
			return Position{}, FromCode(r.ErrorCode)
		}
		if r.Position == nil {
			return Position{}, ErrNoFix
		}
		if !r.Position.Valid() {
			return Position{}, ErrInvalidPosition
		}
		return *r.Position, nil
	})
}

// Error is a position failure with a message fit for the signer
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("geolocation error %d: %s", e.Code, e.Message)
}

// FromCode maps a browser PositionError code to an *Error
func FromCode(code int) *Error {
	switch code {
	case CodePermissionDenied:
		return &Error{Code: code, Message: "Location permission was denied. Allow location access in your browser and enable consent again."}
	case CodePositionUnavailable:
		return &Error{Code: code, Message: "Your location is currently unavailable. Check your device location settings and try again."}
	case CodeTimeout:
		return &Error{Code: code, Message: "Timed out while obtaining your location. Please try again."}
	}
	return &Error{Code: code, Message: genericMessage}
}

const genericMessage = "Could not obtain your location. Please try again."

// Message turns any locate error into a single user-facing message
func Message(err error) string {
	if err == nil {
		return ""
	}
	var geoErr *Error
	if errors.As(err, &geoErr) {
		return geoErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FromCode(CodeTimeout).Message
	}
	return genericMessage
}
