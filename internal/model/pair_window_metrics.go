package model

import "time"

// PairWindowMetrics stores aggregated swap volume for one ordered pair and window.
type PairWindowMetrics struct {
	TokenIn        string
	TokenOut       string
	WindowSizeSecs int64
	WindowStart    time.Time
	WindowEnd      time.Time
	SwapCount      uint64
	VolumeIn       string
	VolumeOut      string
	EffectiveRate  *string
	UniqueCallers  uint64
}
