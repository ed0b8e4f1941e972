// Package fracrank generates fractional rank keys: strings that sort
// lexicographically between two existing keys, so a record in an ordered list
// can be inserted or moved by rewriting only its own key.
//
// Keys are fractions in base len(Alphabet) written without the leading "0.":
// with Base36, "i" is 18/36 and "a9" is 10/36 + 9/36². A key never ends in the
// alphabet's zero digit, which guarantees there is always room below it.
package fracrank

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidKey reports a key that is empty, contains a digit outside the
	// alphabet, or ends in the zero digit.
	ErrInvalidKey = errors.New("invalid rank key")
	// ErrKeyOrder reports bounds with prev >= next.
	ErrKeyOrder = errors.New("rank keys out of order")
	// ErrInvalidAlphabet reports an unusable digit set.
	ErrInvalidAlphabet = errors.New("invalid alphabet")
)

// Generator produces rank keys for one alphabet and configuration. It holds no
// mutable state and is safe for concurrent use.
type Generator struct {
	cfg     Config
	d       *digits
	initial string
}

// New builds a Generator. A nil config means DefaultConfig().
func New(cfg *Config) (*Generator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.Alphabet == "" {
		c.Alphabet = Base36
	}
	d, err := newDigits(c.Alphabet)
	if err != nil {
		return nil, err
	}
	if c.StepSize <= 0 {
		c.StepSize = 1
	}
	if c.StepSize >= d.base() {
		c.StepSize = d.base() - 1
	}
	if c.MaxRankLength < 0 {
		c.MaxRankLength = 0
	}
	g := &Generator{cfg: c, d: d}
	g.initial = g.midpoint("", "")
	return g, nil
}

// MustNew is like New but panics on an invalid configuration.
func MustNew(cfg *Config) *Generator {
	g, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return g
}

var std = MustNew(DefaultConfig())

// Default returns the Generator backing the package-level functions.
func Default() *Generator { return std }

// Config returns a copy of the effective configuration.
func (g *Generator) Config() Config { return g.cfg }

// Initial returns the key given to the first record of an empty list.
func (g *Generator) Initial() string { return g.initial }

// Validate checks that key is a well-formed rank key.
func (g *Generator) Validate(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for i := 0; i < len(key); i++ {
		if g.d.value(key[i]) < 0 {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidKey, key, key[i])
		}
	}
	if key[len(key)-1] == g.d.zero() {
		return fmt.Errorf("%w: %q ends with %q", ErrInvalidKey, key, g.d.zero())
	}
	return nil
}

func (g *Generator) checkBounds(a, b string) error {
	if a != "" {
		if err := g.Validate(a); err != nil {
			return err
		}
	}
	if b != "" {
		if err := g.Validate(b); err != nil {
			return err
		}
	}
	if a != "" && b != "" && a >= b {
		return fmt.Errorf("%w: %s >= %s", ErrKeyOrder, a, b)
	}
	return nil
}

// KeyBetween returns the shortest key that sorts strictly between a and b.
// Either may be empty: an empty a is the start of the list, an empty b its
// end. KeyBetween("", "") is the initial key and KeyBetween(a, "") equals
// KeyForLast(a).
func (g *Generator) KeyBetween(a, b string) (string, error) {
	if err := g.checkBounds(a, b); err != nil {
		return "", err
	}
	switch {
	case a == "" && b == "":
		return g.initial, nil
	case b == "":
		return g.after(a), nil
	default:
		return g.midpoint(a, b), nil
	}
}

// MustKeyBetween is like KeyBetween but panics when the bounds are invalid.
// Use it only with keys that came out of this Generator.
func (g *Generator) MustKeyBetween(a, b string) string {
	k, err := g.KeyBetween(a, b)
	if err != nil {
		panic(err)
	}
	return k
}

// KeyForLast returns a key for a record appended after last. An empty last
// means the list is empty and yields the initial key.
func (g *Generator) KeyForLast(last string) (string, error) {
	return g.KeyBetween(last, "")
}

// KeyForFirst returns a key for a record prepended before first. An empty
// first means the list is empty and yields the initial key.
func (g *Generator) KeyForFirst(first string) (string, error) {
	return g.KeyBetween("", first)
}

// NeedsRebalance reports whether key has grown past MaxRankLength.
func (g *Generator) NeedsRebalance(key string) bool {
	return g.cfg.MaxRankLength > 0 && len(key) > g.cfg.MaxRankLength
}

func (g *Generator) after(a string) string {
	if g.cfg.AppendStrategy == AppendStep {
		return g.stepAfter(a)
	}
	return g.midpoint(a, "")
}

// stepAfter advances the first digit of a that has StepSize room left.
func (g *Generator) stepAfter(a string) string {
	step := g.cfg.StepSize
	if a == "" {
		return string(g.d.digit(step))
	}
	if v := g.d.value(a[0]) + step; v < g.d.base() {
		return string(g.d.digit(v))
	}
	return a[:1] + g.stepAfter(a[1:])
}

// midpoint requires a < b when b is non-empty. An empty a is the first
// possible string, an empty b the last.
func (g *Generator) midpoint(a, b string) string {
	zero := g.d.zero()
	if b != "" {
		// strip the longest common prefix, padding a with zeros. b cannot end
		// inside the prefix because a < b.
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
				return b[:i] + g.midpoint("", b[i:])
			}
			return b[:i] + g.midpoint(a[i:], b[i:])
		}
	}

	// first digits (or lack of digit) differ
	lo := 0
	if a != "" {
		lo = g.d.value(a[0])
	}
	hi := g.d.base()
	if b != "" {
		hi = g.d.value(b[0])
	}
	if hi-lo > 1 {
		return string(g.d.digit((lo + hi + 1) / 2))
	}

	// first digits are consecutive
	if len(b) > 1 {
		return b[:1]
	}

	// b is empty or a single digit right after a's first digit: keep a's
	// first digit and go halfway between the rest of a and the top.
	rest := ""
	if len(a) > 0 {
		rest = a[1:]
	}
	return string(g.d.digit(lo)) + g.midpoint(rest, "")
}

// Float64Approx converts a key to its approximate value in (0, 1).
func (g *Generator) Float64Approx(key string) (float64, error) {
	if err := g.Validate(key); err != nil {
		return 0, err
	}
	base := float64(g.d.base())
	rv := 0.0
	for i := 0; i < len(key); i++ {
		rv += float64(g.d.value(key[i])) / math.Pow(base, float64(i+1))
	}
	return rv, nil
}

// NKeysBetween returns n ordered keys between a and b. Either bound may be
// empty, with the same meaning as in KeyBetween.
func (g *Generator) NKeysBetween(a, b string, n uint) ([]string, error) {
	if n == 0 {
		return []string{}, nil
	}
	if n == 1 {
		c, err := g.KeyBetween(a, b)
		if err != nil {
			return nil, err
		}
		return []string{c}, nil
	}
	if b == "" {
		c, err := g.KeyBetween(a, b)
		if err != nil {
			return nil, err
		}
		result := make([]string, 0, n)
		result = append(result, c)
		for i := 0; i < int(n)-1; i++ {
			c = g.after(c)
			result = append(result, c)
		}
		return result, nil
	}
	if a == "" {
		c, err := g.KeyBetween(a, b)
		if err != nil {
			return nil, err
		}
		result := make([]string, 0, n)
		result = append(result, c)
		for i := 0; i < int(n)-1; i++ {
			c = g.midpoint("", c)
			result = append(result, c)
		}
		reverse(result)
		return result, nil
	}
	mid := n / 2
	c, err := g.KeyBetween(a, b)
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, n)
	left, err := g.NKeysBetween(a, c, mid)
	if err != nil {
		return nil, err
	}
	result = append(result, left...)
	result = append(result, c)
	right, err := g.NKeysBetween(c, b, n-mid-1)
	if err != nil {
		return nil, err
	}
	return append(result, right...), nil
}

// Spread returns n evenly spaced keys of (at most) equal length, suitable for
// rewriting a whole list whose keys have grown too long.
func (g *Generator) Spread(n int) []string {
	if n <= 0 {
		return []string{}
	}
	base := int64(g.d.base())
	width, span := 1, base
	for span <= int64(n) {
		span *= base
		width++
	}
	step := span / int64(n+1)
	zero := string(g.d.zero())
	keys := make([]string, n)
	buf := make([]byte, width)
	for i := 1; i <= n; i++ {
		v := step * int64(i)
		for j := width - 1; j >= 0; j-- {
			buf[j] = g.d.digit(int(v % base))
			v /= base
		}
		// trailing zeros carry no value and would make the key invalid
		keys[i-1] = strings.TrimRight(string(buf), zero)
	}
	return keys
}

func reverse(values []string) {
	for i := 0; i < len(values)/2; i++ {
		j := len(values) - i - 1
		values[i], values[j] = values[j], values[i]
	}
}

// KeyBetween calls Default().KeyBetween.
func KeyBetween(a, b string) (string, error) { return std.KeyBetween(a, b) }

// KeyForLast calls Default().KeyForLast.
func KeyForLast(last string) (string, error) { return std.KeyForLast(last) }

// KeyForFirst calls Default().KeyForFirst.
func KeyForFirst(first string) (string, error) { return std.KeyForFirst(first) }

// NKeysBetween calls Default().NKeysBetween.
func NKeysBetween(a, b string, n uint) ([]string, error) { return std.NKeysBetween(a, b, n) }

// Spread calls Default().Spread.
func Spread(n int) []string { return std.Spread(n) }

// Validate calls Default().Validate.
func Validate(key string) error { return std.Validate(key) }

// Float64Approx calls Default().Float64Approx.
func Float64Approx(key string) (float64, error) { return std.Float64Approx(key) }
