package syncclient

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 16 * time.Second
)

// Backoff yields reconnect delays of 1s, 2s, 4s, 8s and then 16s until Reset.
type Backoff struct {
	exp *backoff.ExponentialBackOff
}

func NewBackoff() *Backoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialBackoff
	exp.MaxInterval = maxBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.Reset()
	return &Backoff{exp: exp}
}

func (b *Backoff) Next() time.Duration {
	next := b.exp.NextBackOff()
	if next == backoff.Stop || next > maxBackoff {
		return maxBackoff
	}
	return next
}

// Reset is called once a connection opens.
func (b *Backoff) Reset() {
	b.exp.Reset()
}
