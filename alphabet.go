package fracrank

import "fmt"

// Alphabet is the ordered set of digits rank keys are written in. Digits must
// be strictly ascending bytes so that lexicographic order of keys equals their
// numeric order as base-len(Alphabet) fractions.
type Alphabet string

const (
	// Base36 is the default alphabet: digits then lowercase letters.
	Base36 Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	// Base62 adds uppercase letters between the digits and lowercase letters.
	Base62 Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// ParseAlphabet maps a configuration name to an alphabet.
func ParseAlphabet(name string) (Alphabet, error) {
	switch name {
	case "", "base36":
		return Base36, nil
	case "base62":
		return Base62, nil
	default:
		return "", fmt.Errorf("%w: unknown alphabet %q", ErrInvalidAlphabet, name)
	}
}

// digits is a lookup table from byte to digit value; -1 marks bytes outside
// the alphabet.
type digits struct {
	chars string
	index [256]int16
}

func newDigits(a Alphabet) (*digits, error) {
	if len(a) < 3 {
		return nil, fmt.Errorf("%w: need at least 3 digits, got %d", ErrInvalidAlphabet, len(a))
	}
	d := &digits{chars: string(a)}
	for i := range d.index {
		d.index[i] = -1
	}
	for i := 0; i < len(a); i++ {
		if i > 0 && a[i] <= a[i-1] {
			return nil, fmt.Errorf("%w: digits not strictly ascending at %q", ErrInvalidAlphabet, a[i])
		}
		d.index[a[i]] = int16(i)
	}
	return d, nil
}

func (d *digits) base() int { return len(d.chars) }

func (d *digits) zero() byte { return d.chars[0] }

func (d *digits) value(c byte) int { return int(d.index[c]) }

func (d *digits) digit(v int) byte { return d.chars[v] }
