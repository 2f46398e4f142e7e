package domain

import "time"

// TimerColor is the countdown color policy
type TimerColor string

const (
	TimerColorGreen  TimerColor = "green"
	TimerColorOrange TimerColor = "orange"
	TimerColorRed    TimerColor = "red"
)

// ColorFor returns green above 180s, orange in (60s,180s], red at 60s or less
func ColorFor(remaining time.Duration) TimerColor {
	switch {
	case remaining > 180*time.Second:
		return TimerColorGreen
	case remaining > 60*time.Second:
		return TimerColorOrange
	default:
		return TimerColorRed
	}
}

// Remaining computes max(0, window - (now - start)), capped at window
func Remaining(window time.Duration, start, now time.Time) time.Duration {
	left := window - now.Sub(start)
	if left < 0 {
		return 0
	}
	if left > window {
		return window
	}
	return left
}

// Progress is remaining / windowAtLastSync as a percentage in [0,100]
func Progress(remaining, windowAtLastSync time.Duration) float64 {
	if windowAtLastSync <= 0 {
		return 0
	}
	p := float64(remaining) / float64(windowAtLastSync) * 100
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}
