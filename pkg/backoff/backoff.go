package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Backoff 指数退避：Min·Factor^(attempt-1)，不超过 Max；Jitter 打开时取 0.5~1 倍
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter bool
}

func NewBackoff(min, max time.Duration, factor float64) *Backoff {
	return &Backoff{
		Min:    min,
		Max:    max,
		Factor: factor,
	}
}

// WithJitter 打开随机抖动
func (b *Backoff) WithJitter() *Backoff {
	b.Jitter = true
	return b
}

// Duration attempt 从 1 开始计数
func (b *Backoff) Duration(attempt int) time.Duration {
	if b == nil || b.Min <= 0 {
		return 0
	}
	if attempt <= 1 {
		return b.jitter(float64(b.Min))
	}

	duration := float64(b.Min) * math.Pow(b.Factor, float64(attempt-1))
	if b.Max > 0 && (duration > float64(b.Max) || math.IsInf(duration, 1)) {
		duration = float64(b.Max)
	}
	return b.jitter(duration)
}

func (b *Backoff) jitter(d float64) time.Duration {
	if b.Jitter {
		d = d * (0.5 + rand.Float64()*0.5)
	}
	return time.Duration(d)
}
