package model

import "time"

// GeoSnapshot is the geolocation record handed off to follow-up pages
type GeoSnapshot struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Age returns how old the snapshot is at now
func (s GeoSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}
