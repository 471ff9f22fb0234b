package snapshot

import "math"

// ExponentialMovingAverage tracks a smoothed mean and variance over roughly the
// last n samples.
type ExponentialMovingAverage struct {
	alpha       float64
	initialized bool

	Value             float64
	Variance          float64
	StandardDeviation float64
}

func CreateExponentialMovingAverage(n int) ExponentialMovingAverage {
	if n < 1 {
		n = 1
	}
	return ExponentialMovingAverage{alpha: 2.0 / (float64(n) + 1)}
}

func (e *ExponentialMovingAverage) Add(value float64) {
	if !e.initialized {
		e.Value = value
		e.initialized = true
		return
	}

	delta := value - e.Value
	e.Value += e.alpha * delta
	e.Variance = (1 - e.alpha) * (e.Variance + e.alpha*delta*delta)
	e.StandardDeviation = math.Sqrt(e.Variance)
}

func (e *ExponentialMovingAverage) Reset() {
	e.initialized = false
	e.Value = 0
	e.Variance = 0
	e.StandardDeviation = 0
}
