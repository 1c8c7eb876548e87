package scale

import (
	"math"
	"time"
)

// WeightData is a single scale reading as seen by the rest of the system.
// Two instances exist conceptually at any time: the live (possibly
// fluctuating) reading and the last locked reading.
type WeightData struct {
	Weight     float64   `json:"weight"` // net weight in kg
	Stable     bool      `json:"stable"`
	ProductRef string    `json:"product_ref,omitempty"` // device-reported PLU, if any
	Timestamp  time.Time `json:"timestamp"`
}

// Round3 rounds a weight to the 1-gram resolution used throughout
// the stability pipeline.
func Round3(w float64) float64 {
	return math.Round(w*1000) / 1000
}
