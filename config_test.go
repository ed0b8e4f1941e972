package fracrank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppendStrategy(t *testing.T) {
	for _, s := range []AppendStrategy{AppendMidpoint, AppendStep} {
		got, err := ParseAppendStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	got, err := ParseAppendStrategy("")
	require.NoError(t, err)
	assert.Equal(t, AppendMidpoint, got)

	_, err = ParseAppendStrategy("random")
	assert.Error(t, err)
	assert.Equal(t, "AppendStrategy(7)", AppendStrategy(7).String())
}

func TestConfigBuildersCopy(t *testing.T) {
	base := DefaultConfig()
	c := base.WithAlphabet(Base62).
		WithAppendStrategy(AppendStep).
		WithStepSize(4).
		WithMaxRankLength(10)

	assert.Equal(t, *DefaultConfig(), *base)
	assert.Equal(t, Config{
		Alphabet:       Base62,
		AppendStrategy: AppendStep,
		StepSize:       4,
		MaxRankLength:  10,
	}, *c)
}

func TestNewNormalizesConfig(t *testing.T) {
	g, err := New(&Config{StepSize: 100, MaxRankLength: -3})
	require.NoError(t, err)
	assert.Equal(t, Base36, g.Config().Alphabet)
	assert.Equal(t, 35, g.Config().StepSize)
	assert.Equal(t, 0, g.Config().MaxRankLength)
	assert.False(t, g.NeedsRebalance("abcdefghijklmnopqrstuvwxyz0123456789abc"))

	g, err = New(nil)
	require.NoError(t, err)
	assert.Equal(t, *DefaultConfig(), g.Config())

	_, err = New(&Config{Alphabet: "a"})
	assert.ErrorIs(t, err, ErrInvalidAlphabet)
	_, err = New(&Config{Alphabet: "aab"})
	assert.ErrorIs(t, err, ErrInvalidAlphabet)
}

func TestProductionConfig(t *testing.T) {
	g := MustNew(ProductionConfig())
	assert.Equal(t, AppendStep, g.Config().AppendStrategy)

	key := g.Initial()
	for range 5 {
		next, err := g.KeyForLast(key)
		require.NoError(t, err)
		assert.Less(t, key, next)
		assert.Len(t, next, 1)
		key = next
	}
}
