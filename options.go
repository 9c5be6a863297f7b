package geomesh

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
	"github.com/opd-ai/geomesh/limits"
	"github.com/opd-ai/geomesh/transport"
)

// ListenOptions lists the endpoints a node advertises per link type, in
// host:port form. Empty entries are not advertised.
type ListenOptions struct {
	TCP    string `yaml:"tcp"`
	UDP    string `yaml:"udp"`
	WebRTC string `yaml:"webrtc"`
}

// BootstrapPeer is a peer added on Start.
type BootstrapPeer struct {
	// Address is the textual mesh address.
	Address string `yaml:"address"`
	// PublicKey is the hex encoded public key.
	PublicKey string `yaml:"public_key"`
	// Endpoints are kind://address strings, most preferred first.
	Endpoints []string `yaml:"endpoints"`
}

// Options contains configuration options for creating a Node.
type Options struct {
	// KeyPair is the node identity. When nil, SecretKey is used, and
	// when that is empty too a new identity is generated.
	KeyPair   *crypto.KeyPair `yaml:"-"`
	SecretKey string          `yaml:"secret_key"`

	Location       address.Location `yaml:"location"`
	Listen         ListenOptions    `yaml:"listen"`
	BootstrapPeers []BootstrapPeer  `yaml:"bootstrap_peers"`
	MaxPeers       int              `yaml:"max_peers"`
	EnableRelay    bool             `yaml:"enable_relay"`
	DHTReplication int              `yaml:"dht_replication"`

	HopLimit            uint8         `yaml:"hop_limit"`
	RouteTimeout        time.Duration `yaml:"route_timeout"`
	RouteLifetime       time.Duration `yaml:"route_lifetime"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	PeerTimeout         time.Duration `yaml:"peer_timeout"`

	// DataDir holds the DHT database. Entries are kept in memory only
	// when empty.
	DataDir string `yaml:"data_dir"`

	Transport  transport.Transport   `yaml:"-"`
	Clock      clock.Clock           `yaml:"-"`
	Registerer prometheus.Registerer `yaml:"-"`
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		MaxPeers:            64,
		EnableRelay:         true,
		DHTReplication:      3,
		HopLimit:            limits.DefaultHopLimit,
		RouteTimeout:        5 * time.Second,
		RouteLifetime:       5 * time.Minute,
		MaintenanceInterval: 60 * time.Second,
		HeartbeatInterval:   30 * time.Second,
		PeerTimeout:         2 * time.Minute,
	}
}

// LoadOptions reads YAML options from path on top of the defaults.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}
	return ParseOptions(data)
}

// ParseOptions decodes YAML options on top of the defaults.
func ParseOptions(data []byte) (*Options, error) {
	opts := NewOptions()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parse options: %w", err)
	}
	opts.applyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// applyDefaults fills zero timing values from NewOptions.
func (o *Options) applyDefaults() {
	def := NewOptions()
	if o.HopLimit == 0 {
		o.HopLimit = def.HopLimit
	}
	for _, d := range []struct{ v, def *time.Duration }{
		{&o.RouteTimeout, &def.RouteTimeout},
		{&o.RouteLifetime, &def.RouteLifetime},
		{&o.MaintenanceInterval, &def.MaintenanceInterval},
		{&o.HeartbeatInterval, &def.HeartbeatInterval},
		{&o.PeerTimeout, &def.PeerTimeout},
	} {
		if *d.v <= 0 {
			*d.v = *d.def
		}
	}
}

// Validate checks option values that New cannot default.
func (o *Options) Validate() error {
	if err := o.Location.Validate(); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	if o.MaxPeers < 0 {
		return fmt.Errorf("max_peers must not be negative")
	}
	if o.DHTReplication < 0 {
		return fmt.Errorf("dht_replication must not be negative")
	}
	for i, bp := range o.BootstrapPeers {
		if _, err := bp.peerInfo(); err != nil {
			return fmt.Errorf("bootstrap peer %d: %w", i, err)
		}
	}
	return nil
}

// keyPair returns the configured identity or generates one.
func (o *Options) keyPair() (*crypto.KeyPair, error) {
	if o.KeyPair != nil {
		kp := *o.KeyPair
		return &kp, nil
	}
	if o.SecretKey != "" {
		b, err := hex.DecodeString(o.SecretKey)
		if err != nil || len(b) != crypto.KeySize {
			return nil, fmt.Errorf("secret_key must be %d hex encoded bytes", crypto.KeySize)
		}
		var seed [crypto.KeySize]byte
		copy(seed[:], b)
		return crypto.FromSecretKey(seed)
	}
	return crypto.GenerateKeyPair()
}

// listenEndpoints converts the listen options to advertised endpoints.
func (o *Options) listenEndpoints() []transport.Endpoint {
	var eps []transport.Endpoint
	for i, l := range []struct {
		kind transport.EndpointKind
		addr string
	}{
		{transport.EndpointUDP, o.Listen.UDP},
		{transport.EndpointTCP, o.Listen.TCP},
		{transport.EndpointWebRTC, o.Listen.WebRTC},
	} {
		if l.addr == "" {
			continue
		}
		eps = append(eps, transport.Endpoint{Kind: l.kind, Address: l.addr, Priority: uint8(10 + i)})
	}
	return eps
}

func (bp BootstrapPeer) peerInfo() (PeerInfo, error) {
	addr, err := address.Parse(bp.Address)
	if err != nil {
		return PeerInfo{}, err
	}

	b, err := hex.DecodeString(bp.PublicKey)
	if err != nil || len(b) != crypto.KeySize {
		return PeerInfo{}, fmt.Errorf("public_key must be %d hex encoded bytes", crypto.KeySize)
	}

	info := PeerInfo{Address: addr}
	copy(info.PublicKey[:], b)
	for i, s := range bp.Endpoints {
		ep, err := transport.ParseEndpoint(s)
		if err != nil {
			return PeerInfo{}, err
		}
		ep.Priority = uint8(i)
		info.Endpoints = append(info.Endpoints, ep)
	}
	if len(info.Endpoints) == 0 {
		return PeerInfo{}, fmt.Errorf("no endpoints")
	}
	return info, nil
}
