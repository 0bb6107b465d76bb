package bridge

import (
	"fmt"
	"math/rand"
	"time"
)

// Backoff describes an exponential backoff policy for resubscribing.
type Backoff struct {
	Base       time.Duration `yaml:"base"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	// JitterRatio spreads each delay by up to +/- ratio of itself.
	JitterRatio float64 `yaml:"jitterRatio"`
}

// DefaultBackoff returns the policy used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        250 * time.Millisecond,
		Max:         15 * time.Second,
		Multiplier:  2.0,
		JitterRatio: 0.2,
	}
}

// Next returns the next backoff duration for the given retry count.
func (b Backoff) Next(retry int) time.Duration {
	if retry <= 0 {
		return b.Base
	}
	d := float64(b.Base)
	for i := 0; i < retry; i++ {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(d)
}

// Validate ensures the policy is usable.
func (b Backoff) Validate() error {
	if b.Base <= 0 {
		return fmt.Errorf("Base must be >0")
	}
	if b.Max <= 0 {
		return fmt.Errorf("Max must be >0")
	}
	if b.Max < b.Base {
		return fmt.Errorf("Max must be >= Base")
	}
	if b.Multiplier < 1 {
		return fmt.Errorf("Multiplier must be >=1")
	}
	if b.JitterRatio < 0 || b.JitterRatio > 1 {
		return fmt.Errorf("JitterRatio must be between 0 and 1")
	}
	return nil
}

func jitter(base time.Duration, ratio float64) time.Duration {
	if ratio <= 0 {
		return base
	}
	delta := int64(float64(base) * ratio)
	if delta == 0 {
		return base
	}
	// add or subtract up to delta.
	offset := rand.Int63n(2*delta+1) - delta
	return time.Duration(int64(base) + offset)
}
