package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestKeygenAndAddress(t *testing.T) {
	out, err := execute(t, "keygen")
	require.NoError(t, err)

	var secret string
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "secret_key: "); ok {
			secret = v
		}
	}
	require.Len(t, secret, 64)

	out, err = execute(t, "address", "--secret-key", secret, "--lat", "52.52", "--lon", "13.405")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ipv7:u33d:"), out)
	assert.Contains(t, out, "geohash: u33d")

	_, err = execute(t, "address", "--secret-key", "abcd")
	assert.Error(t, err)
}

func TestSimulate(t *testing.T) {
	out, err := execute(t, "simulate", "--nodes", "3", "--message", "ping")
	require.NoError(t, err)
	assert.Contains(t, out, `delivered "ping"`)
	assert.Contains(t, out, "over 2 hops")

	_, err = execute(t, "simulate", "--nodes", "1")
	assert.Error(t, err)
}
