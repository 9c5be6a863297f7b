package geomesh

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
	"github.com/opd-ai/geomesh/transport"
)

func TestNewOptionsDefaults(t *testing.T) {
	o := NewOptions()
	assert.Equal(t, 64, o.MaxPeers)
	assert.True(t, o.EnableRelay)
	assert.Equal(t, 3, o.DHTReplication)
	assert.Equal(t, uint8(64), o.HopLimit)
	assert.Equal(t, 5*time.Second, o.RouteTimeout)
	assert.Equal(t, 60*time.Second, o.MaintenanceInterval)
	assert.NoError(t, o.Validate())
}

func TestParseOptions(t *testing.T) {
	kp, addr := testIdentity(t, berlin)
	secret := hexKey([crypto.KeySize]byte{1, 2, 3})

	data := []byte(`
secret_key: ` + secret + `
location:
  lat: 48.8566
  lon: 2.3522
listen:
  udp: 0.0.0.0:7000
  tcp: 0.0.0.0:7001
bootstrap_peers:
  - address: ` + addr.String() + `
    public_key: ` + hexKey(kp.Public) + `
    endpoints: ["udp://203.0.113.7:7000", "tcp://203.0.113.7:7001"]
max_peers: 16
enable_relay: false
route_timeout: 2s
heartbeat_interval: 0s
data_dir: /var/lib/geomesh
`)

	o, err := ParseOptions(data)
	require.NoError(t, err)

	assert.Equal(t, address.Location{Lat: 48.8566, Lon: 2.3522}, o.Location)
	assert.Equal(t, 16, o.MaxPeers)
	assert.False(t, o.EnableRelay)
	assert.Equal(t, 3, o.DHTReplication, "unset values keep their defaults")
	assert.Equal(t, 2*time.Second, o.RouteTimeout)
	assert.Equal(t, 30*time.Second, o.HeartbeatInterval, "zero durations fall back to defaults")
	assert.Equal(t, "/var/lib/geomesh", o.DataDir)

	require.Len(t, o.BootstrapPeers, 1)
	info, err := o.BootstrapPeers[0].peerInfo()
	require.NoError(t, err)
	assert.True(t, info.Address.Equal(addr))
	assert.Equal(t, kp.Public, info.PublicKey)
	best, ok := info.BestEndpoint()
	require.True(t, ok)
	assert.Equal(t, transport.EndpointUDP, best.Kind)

	eps := o.listenEndpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, transport.Endpoint{Kind: transport.EndpointUDP, Address: "0.0.0.0:7000", Priority: 10}, eps[0])

	identity, err := o.keyPair()
	require.NoError(t, err)
	again, err := o.keyPair()
	require.NoError(t, err)
	assert.Equal(t, identity.Public, again.Public, "secret_key gives a stable identity")
}

func TestParseOptionsErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "max_peers: [1"},
		{"latitude out of range", "location: {lat: 91, lon: 0}"},
		{"negative max peers", "max_peers: -1"},
		{"bad bootstrap address", "bootstrap_peers: [{address: nope, public_key: '00', endpoints: ['udp://x:1']}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOptions([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_peers: 8\n"), 0o600))

	o, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, 8, o.MaxPeers)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBadSecretKey(t *testing.T) {
	o := NewOptions()
	o.SecretKey = "zz"
	_, err := o.keyPair()
	assert.Error(t, err)
}

func TestDataDirPersistsEntries(t *testing.T) {
	dir := t.TempDir()
	kp, _ := testIdentity(t, berlin)

	network := transport.NewMemoryNetwork()
	link, err := network.Listen("a")
	require.NoError(t, err)
	opts := NewOptions()
	opts.Location = berlin
	opts.KeyPair = kp
	opts.DataDir = dir
	opts.Transport = link

	n, err := New(opts)
	require.NoError(t, err)
	_, err = n.Publish([]byte("k"), []byte("v"), time.Hour)
	require.NoError(t, err)
	require.NoError(t, n.Stop())

	reopened := newTestNode(t, network, "a2", berlin, func(o *Options) {
		o.KeyPair = kp
		o.DataDir = dir
	})
	value, ok := reopened.Lookup([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)
}
