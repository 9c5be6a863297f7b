package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opd-ai/geomesh"
	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/transport"
)

var simulateFlags struct {
	config  string
	nodes   int
	message string
	timeout time.Duration
}

var cities = []struct {
	name string
	loc  address.Location
}{
	{"lisbon", address.Location{Lat: 38.7223, Lon: -9.1393}},
	{"madrid", address.Location{Lat: 40.4168, Lon: -3.7038}},
	{"paris", address.Location{Lat: 48.8566, Lon: 2.3522}},
	{"berlin", address.Location{Lat: 52.52, Lon: 13.405}},
	{"warsaw", address.Location{Lat: 52.2297, Lon: 21.0122}},
	{"kyiv", address.Location{Lat: 50.4501, Lon: 30.5234}},
	{"istanbul", address.Location{Lat: 41.0082, Lon: 28.9784}},
	{"cairo", address.Location{Lat: 30.0444, Lon: 31.2357}},
}

func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a chain of nodes on an in-memory network and send a message end to end",
		Args:  cobra.NoArgs,
		RunE:  simulateCmdRun,
	}
	cmd.Flags().StringVar(&simulateFlags.config, "config", "", "YAML options applied to every node")
	cmd.Flags().IntVar(&simulateFlags.nodes, "nodes", 4, "number of nodes in the chain")
	cmd.Flags().StringVar(&simulateFlags.message, "message", "hello mesh", "payload to send")
	cmd.Flags().DurationVar(&simulateFlags.timeout, "timeout", 5*time.Second, "delivery timeout")
	return cmd
}

func nodeOptions(network *transport.MemoryNetwork, name string, loc address.Location) (*geomesh.Options, error) {
	opts := geomesh.NewOptions()
	if simulateFlags.config != "" {
		var err error
		if opts, err = geomesh.LoadOptions(simulateFlags.config); err != nil {
			return nil, err
		}
	}
	// Identities and storage are per node.
	opts.SecretKey = ""
	opts.DataDir = ""
	opts.BootstrapPeers = nil
	opts.Location = loc

	link, err := network.Listen(name)
	if err != nil {
		return nil, err
	}
	opts.Transport = link
	return opts, nil
}

func simulateCmdRun(cmd *cobra.Command, args []string) error {
	if simulateFlags.nodes < 2 || simulateFlags.nodes > len(cities) {
		return fmt.Errorf("nodes must be between 2 and %d", len(cities))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), simulateFlags.timeout)
	defer cancel()

	network := transport.NewMemoryNetwork()
	nodes := make([]*geomesh.Node, 0, simulateFlags.nodes)
	defer func() {
		for _, n := range nodes {
			_ = n.Stop()
		}
	}()

	for _, city := range cities[:simulateFlags.nodes] {
		opts, err := nodeOptions(network, city.name, city.loc)
		if err != nil {
			return err
		}
		n, err := geomesh.New(opts)
		if err != nil {
			return fmt.Errorf("%s: %w", city.name, err)
		}
		nodes = append(nodes, n)
	}

	for i := 1; i < len(nodes); i++ {
		if err := connect(nodes[i-1], cities[i-1].name, nodes[i], cities[i].name); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		if err := n.Start(ctx); err != nil {
			return err
		}
	}

	first, last := nodes[0], nodes[len(nodes)-1]
	events, unsubscribe := last.Subscribe(16)
	defer unsubscribe()

	out := cmd.OutOrStdout()
	for i, n := range nodes {
		fmt.Fprintf(out, "%-9s %s\n", cities[i].name, n.Address())
	}

	start := time.Now()
	if err := first.Send(ctx, last.Address(), []byte(simulateFlags.message)); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("message not delivered: %w", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("node stopped before delivery")
			}
			if ev.Type != geomesh.EventPacketReceived {
				continue
			}
			hops := int(first.Router().HopLimit()) - int(ev.Packet.Header.TTL) + 1
			fmt.Fprintf(out, "\ndelivered %q in %s over %d hops\n\n", ev.Packet.Payload, time.Since(start).Round(time.Microsecond), hops)
			printStats(cmd, nodes)
			return nil
		}
	}
}

func connect(a *geomesh.Node, aName string, b *geomesh.Node, bName string) error {
	if err := a.AddPeer(geomesh.PeerInfo{
		Address:   b.Address(),
		PublicKey: b.PublicKey(),
		Endpoints: []transport.Endpoint{{Kind: transport.EndpointMemory, Address: bName}},
	}); err != nil {
		return err
	}
	return b.AddPeer(geomesh.PeerInfo{
		Address:   a.Address(),
		PublicKey: a.PublicKey(),
		Endpoints: []transport.Endpoint{{Kind: transport.EndpointMemory, Address: aName}},
	})
}

func printStats(cmd *cobra.Command, nodes []*geomesh.Node) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-9s %6s %6s %9s %7s %6s\n", "node", "sent", "recv", "forwarded", "dropped", "routes")
	for i, n := range nodes {
		s := n.Stats()
		fmt.Fprintf(out, "%-9s %6d %6d %9d %7d %6d\n",
			cities[i].name, s.PacketsSent, s.PacketsReceived, s.PacketsForwarded, s.PacketsDropped, s.RouteCount)
	}
}
