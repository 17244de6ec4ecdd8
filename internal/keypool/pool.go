// Package keypool spreads generation calls across several provider API keys.
// Every Acquire goes to a key with the lowest usage count.
package keypool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"genforge/internal/infra/credentials"
)

// ErrEmpty is returned by Acquire when no key is configured.
var ErrEmpty = errors.New("keypool: no api keys configured")

// Key is one acquired credential.
type Key struct {
	Label string
	Value string
}

type slot struct {
	key      Key
	uses     atomic.Int64
	failures atomic.Int64
}

type Pool struct {
	slots []*slot
	start atomic.Uint64
}

// New builds a pool, dropping blank and duplicate values.
func New(keys []Key) *Pool {
	p := &Pool{}
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		k.Value = strings.TrimSpace(k.Value)
		if k.Value == "" {
			continue
		}
		if _, dup := seen[k.Value]; dup {
			continue
		}
		seen[k.Value] = struct{}{}
		if k.Label == "" {
			k.Label = fmt.Sprintf("key-%d", len(p.slots))
		}
		p.slots = append(p.slots, &slot{key: k})
	}
	return p
}

// FromValues labels raw values env-0, env-1, ...
func FromValues(values []string) *Pool {
	keys := make([]Key, 0, len(values))
	for i, v := range values {
		keys = append(keys, Key{Label: fmt.Sprintf("env-%d", i), Value: v})
	}
	return New(keys)
}

// TokenSource lists stored provider tokens.
type TokenSource interface {
	Tokens(ctx context.Context, provider string) ([]credentials.Token, error)
}

// Load combines keys from configuration with those stored for provider.
func Load(ctx context.Context, src TokenSource, provider string, configured []string) (*Pool, error) {
	keys := make([]Key, 0, len(configured))
	for i, v := range configured {
		keys = append(keys, Key{Label: fmt.Sprintf("env-%d", i), Value: v})
	}
	if src != nil {
		tokens, err := src.Tokens(ctx, provider)
		if err != nil {
			return nil, fmt.Errorf("keypool: load %s tokens: %w", provider, err)
		}
		for _, t := range tokens {
			keys = append(keys, Key{Label: t.Label, Value: t.Value})
		}
	}
	return New(keys), nil
}

// Len reports the number of usable keys.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.slots)
}

// Acquire picks a least-used key and counts the use. Ties rotate so idle
// pools still spread load.
func (p *Pool) Acquire() (Key, error) {
	n := p.Len()
	if n == 0 {
		return Key{}, ErrEmpty
	}
	for {
		offset := int(p.start.Add(1) % uint64(n))
		best := p.slots[offset]
		low := best.uses.Load()
		for i := 1; i < n; i++ {
			s := p.slots[(offset+i)%n]
			if u := s.uses.Load(); u < low {
				best, low = s, u
			}
		}
		// counters only grow, so a successful swap still increments a minimum
		if best.uses.CompareAndSwap(low, low+1) {
			return best.key, nil
		}
	}
}

// ReportFailure records a failed call made with the key labelled label.
func (p *Pool) ReportFailure(label string) {
	for _, s := range p.slotsOrNil() {
		if s.key.Label == label {
			s.failures.Add(1)
			return
		}
	}
}

// Stats is a usage snapshot for one key.
type Stats struct {
	Label    string
	Uses     int64
	Failures int64
}

func (p *Pool) Stats() []Stats {
	out := make([]Stats, 0, p.Len())
	for _, s := range p.slotsOrNil() {
		out = append(out, Stats{Label: s.key.Label, Uses: s.uses.Load(), Failures: s.failures.Load()})
	}
	return out
}

func (p *Pool) slotsOrNil() []*slot {
	if p == nil {
		return nil
	}
	return p.slots
}
