package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntauth/fracrank"
	"github.com/ntauth/fracrank/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRoot()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func lines(out string) []string {
	return strings.Fields(out)
}

func TestKeyCommands(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"initial", []string{"key", "last"}, []string{"i"}},
		{"append", []string{"key", "last", "i"}, []string{"r"}},
		{"prepend", []string{"key", "first", "i"}, []string{"9"}},
		{"prepend empty", []string{"key", "first"}, []string{"i"}},
		{"between", []string{"key", "between", "--prev", "a", "--next", "c"}, []string{"b"}},
		{"between adjacent", []string{"key", "between", "--prev", "a", "--next", "b"}, []string{"ai"}},
		{"spread", []string{"key", "spread", "3"}, []string{"9", "i", "r"}},
		{"spread none", []string{"key", "spread", "0"}, []string{}},
		{"step strategy", []string{"key", "--strategy", "step", "--step", "2", "last", "i"}, []string{"k"}},
		{"base62", []string{"key", "--alphabet", "base62", "last"}, []string{"V"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, lines(out))
		})
	}
}

func TestKeyBetweenCount(t *testing.T) {
	for _, args := range [][]string{
		{"key", "between", "--prev", "a", "--next", "b", "-n", "5"},
		{"key", "between", "--prev", "a", "--next", "b", "-n", "5", "--jitter", "3"},
	} {
		out, err := execute(t, args...)
		require.NoError(t, err)
		keys := lines(out)
		require.Len(t, keys, 5)
		prev := "a"
		for _, k := range keys {
			assert.Less(t, prev, k)
			assert.NoError(t, fracrank.Validate(k))
			prev = k
		}
		assert.Less(t, prev, "b")
	}
}

func TestKeyInspect(t *testing.T) {
	out, err := execute(t, "key", "--max-length", "1", "inspect", "i")
	require.NoError(t, err)
	assert.Contains(t, out, "length:          1")
	assert.Contains(t, out, "position:        0.500000")
	assert.Contains(t, out, "needs rebalance: false")

	out, err = execute(t, "key", "--max-length", "1", "inspect", "ai")
	require.NoError(t, err)
	assert.Contains(t, out, "needs rebalance: true")
}

func TestKeyErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"reversed", []string{"key", "between", "--prev", "c", "--next", "a"}, fracrank.ErrKeyOrder},
		{"trailing zero", []string{"key", "inspect", "a0"}, fracrank.ErrInvalidKey},
		{"foreign digit", []string{"key", "last", "A"}, fracrank.ErrInvalidKey},
		{"unknown alphabet", []string{"key", "--alphabet", "base10", "last"}, fracrank.ErrInvalidAlphabet},
		{"bad count", []string{"key", "spread", "x"}, nil},
		{"too many args", []string{"key", "last", "a", "b"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestServeRejectsBadConfig(t *testing.T) {
	t.Setenv("FRACRANK_STORAGE_DRIVER", "mongo")
	_, err := execute(t, "serve")
	assert.ErrorContains(t, err, "mongo")
}

func TestWatchNeedsBroker(t *testing.T) {
	t.Setenv("FRACRANK_AMQP_URL", "")
	_, err := execute(t, "watch")
	assert.ErrorContains(t, err, "no broker")
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, io.Discard) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
