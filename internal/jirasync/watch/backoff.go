package watch

import (
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// Backoff produces exponentially growing, jittered retry delays that never
// exceed the maximum. It is owned by a single watch goroutine.
type Backoff struct {
	params wait.Backoff
	next   wait.DelayFunc
}

// NewBackoff returns a backoff starting at base that doubles on every step.
// Jitter adds up to jitter*delay on top; the result is clamped to max.
func NewBackoff(base, max time.Duration, jitter float64) *Backoff {
	b := &Backoff{params: wait.Backoff{
		Duration: base,
		Factor:   2,
		Jitter:   jitter,
		Steps:    math.MaxInt32,
		Cap:      max,
	}}
	b.Reset()
	return b
}

// Next returns the delay before the next retry.
func (b *Backoff) Next() time.Duration {
	d := b.next()
	if b.params.Cap > 0 && d > b.params.Cap {
		d = b.params.Cap
	}
	return d
}

// Reset starts over from the base delay.
func (b *Backoff) Reset() {
	b.next = b.params.DelayFunc()
}
