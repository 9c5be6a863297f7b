package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
)

func TestTypedExtensions(t *testing.T) {
	t.Run("fragmentation", func(t *testing.T) {
		f := Fragment{ID: 7, Index: 1, Count: 3}
		got, err := NewFragmentation(f).Fragment()
		require.NoError(t, err)
		assert.Equal(t, f, got)

		_, err = NewFragmentation(Fragment{ID: 7, Index: 3, Count: 3}).Fragment()
		assert.ErrorIs(t, err, ErrMalformedExtension)
	})

	t.Run("encryption", func(t *testing.T) {
		info := EncryptionInfo{Algorithm: 2, Nonce: []byte{1, 2, 3, 4}}
		got, err := NewEncryption(info).Encryption()
		require.NoError(t, err)
		assert.Equal(t, info, got)
	})

	t.Run("qos", func(t *testing.T) {
		got, err := NewQoS(QoS{Priority: 5, Reliable: true}).QoS()
		require.NoError(t, err)
		assert.Equal(t, QoS{Priority: 5, Reliable: true}, got)
	})

	t.Run("source route", func(t *testing.T) {
		hops := []crypto.NodeID{{1}, {2}, {3}}
		got, err := NewSourceRoute(hops).SourceRoute()
		require.NoError(t, err)
		assert.Equal(t, hops, got)

		_, err = Extension{Type: ExtSourceRoute, Value: []byte{1}}.SourceRoute()
		assert.ErrorIs(t, err, ErrMalformedExtension)
	})

	t.Run("routing hint", func(t *testing.T) {
		gh, err := address.ParseGeohash("dp3w")
		require.NoError(t, err)
		got, err := NewRoutingHint(gh).RoutingHint()
		require.NoError(t, err)
		assert.Equal(t, gh, got)

		_, err = Extension{Type: ExtRoutingHint, Value: []byte("dpa!")}.RoutingHint()
		assert.ErrorIs(t, err, ErrMalformedExtension)
	})

	t.Run("type mismatch", func(t *testing.T) {
		_, err := NewQoS(QoS{}).Fragment()
		assert.ErrorIs(t, err, ErrMalformedExtension)
	})
}

func TestParseExtensionsTrailingBytes(t *testing.T) {
	ext := NewQoS(QoS{Priority: 1})
	data := append(ext.appendTo(nil), 0xFF)

	_, err := parseExtensions(data, 1, false)
	assert.ErrorIs(t, err, ErrMalformedExtension)
}
