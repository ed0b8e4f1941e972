package fracrank

import (
	"math/rand"
)

// Jitter interface for testability (use math/rand.Rand).
type Jitter interface {
	// Uniform integer in [min, max], inclusive.
	IntnRange(min, max int) int
}

// NoJitter always picks the lower end of the range, which makes the jittered
// functions deterministic.
type NoJitter struct{}

func (NoJitter) IntnRange(min, max int) int { return min }

// RandJitter is a helper backed by *rand.Rand. Like *rand.Rand itself it is
// not safe for concurrent use.
type RandJitter struct{ R *rand.Rand }

func (j RandJitter) IntnRange(min, max int) int {
	if max <= min {
		return min
	}
	return min + j.R.Intn(max-min+1)
}

// SharedJitter draws from the math/rand top-level source and may be shared
// between goroutines.
type SharedJitter struct{}

func (SharedJitter) IntnRange(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.Intn(max-min+1)
}

// KeyBetweenJitter picks a key strictly between a and b, with randomization.
// Writers that compute a key between the same neighbours at the same time
// rarely end up with the same key. spread bounds how far, in digits, the
// pick may stray from the midpoint.
func (g *Generator) KeyBetweenJitter(a, b string, j Jitter, spread int) (string, error) {
	if err := g.checkBounds(a, b); err != nil {
		return "", err
	}
	if a == "" && b == "" {
		return g.initial, nil
	}
	return g.midpointJitter(a, b, j, spread), nil
}

// NKeysBetweenJitter generates n keys between a and b with randomization.
func (g *Generator) NKeysBetweenJitter(a, b string, n uint, j Jitter, spread int) ([]string, error) {
	if n == 0 {
		return []string{}, nil
	}
	if n == 1 {
		c, err := g.KeyBetweenJitter(a, b, j, spread)
		if err != nil {
			return nil, err
		}
		return []string{c}, nil
	}
	if b == "" {
		c, err := g.KeyBetweenJitter(a, b, j, spread)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, n)
		out = append(out, c)
		for i := 0; i < int(n)-1; i++ {
			c = g.midpointJitter(c, b, j, spread)
			out = append(out, c)
		}
		return out, nil
	}
	if a == "" {
		c, err := g.KeyBetweenJitter(a, b, j, spread)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, n)
		out = append(out, c)
		for i := 0; i < int(n)-1; i++ {
			c = g.midpointJitter(a, c, j, spread)
			out = append(out, c)
		}
		reverse(out)
		return out, nil
	}
	mid := n / 2
	c, err := g.KeyBetweenJitter(a, b, j, spread)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	left, err := g.NKeysBetweenJitter(a, c, mid, j, spread)
	if err != nil {
		return nil, err
	}
	out = append(out, left...)
	out = append(out, c)
	right, err := g.NKeysBetweenJitter(c, b, n-mid-1, j, spread)
	if err != nil {
		return nil, err
	}
	return append(out, right...), nil
}

// midpointJitter is a jittered version of midpoint with the same ordering
// guarantees.
func (g *Generator) midpointJitter(a, b string, j Jitter, spread int) string {
	zero := g.d.zero()
	if b != "" {
		i := 0
		for ; i < len(b); i++ {
			c := zero
			if i < len(a) {
				c = a[i]
			}
			if c != b[i] {
				break
			}
		}
		if i > 0 {
			if i > len(a) {
				return b[:i] + g.midpointJitter("", b[i:], j, spread)
			}
			return b[:i] + g.midpointJitter(a[i:], b[i:], j, spread)
		}
	}

	lo := 0
	if a != "" {
		lo = g.d.value(a[0])
	}
	hi := g.d.base()
	if b != "" {
		hi = g.d.value(b[0])
	}

	// Interior room: pick around the centre, at most spread digits away.
	if hi-lo > 1 {
		center := lo + 1 + (hi-lo-1)/2
		from := max(lo+1, center-j.IntnRange(0, spread))
		to := min(hi-1, center+j.IntnRange(0, spread))
		pick := from
		if to > from {
			pick = j.IntnRange(from, to)
		}
		return string(g.d.digit(pick))
	}

	// Adjacent digits: b's first digit followed by a non-zero digit below
	// b's second one.
	if len(b) > 1 {
		upper := g.d.value(b[1]) - 1
		if upper < 1 {
			return b[:1]
		}
		return b[:1] + string(g.d.digit(j.IntnRange(1, min(upper, 1+spread))))
	}

	rest := ""
	if len(a) > 0 {
		rest = a[1:]
	}
	return string(g.d.digit(lo)) + g.midpointJitter(rest, "", j, spread)
}

// KeyBetweenJitter calls Default().KeyBetweenJitter.
func KeyBetweenJitter(a, b string, j Jitter, spread int) (string, error) {
	return std.KeyBetweenJitter(a, b, j, spread)
}

// NKeysBetweenJitter calls Default().NKeysBetweenJitter.
func NKeysBetweenJitter(a, b string, n uint, j Jitter, spread int) ([]string, error) {
	return std.NKeysBetweenJitter(a, b, n, j, spread)
}
