package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
)

var addressFlags struct {
	secretKey string
	lat       float64
	lon       float64
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a node identity",
		Args:  cobra.NoArgs,
		RunE:  keygenCmdRun,
	}
}

func keygenCmdRun(cmd *cobra.Command, args []string) error {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	defer crypto.WipeKeyPair(kp)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "secret_key: %s\n", hex.EncodeToString(kp.Private[:]))
	fmt.Fprintf(out, "public_key: %s\n", hex.EncodeToString(kp.Public[:]))
	fmt.Fprintf(out, "node_id:    %s\n", kp.NodeID())
	return nil
}

func addressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the mesh address of an identity at a location",
		Args:  cobra.NoArgs,
		RunE:  addressCmdRun,
	}
	cmd.Flags().StringVar(&addressFlags.secretKey, "secret-key", "", "hex encoded secret key")
	cmd.Flags().Float64Var(&addressFlags.lat, "lat", 0, "latitude in degrees")
	cmd.Flags().Float64Var(&addressFlags.lon, "lon", 0, "longitude in degrees")
	_ = cmd.MarkFlagRequired("secret-key")
	return cmd
}

func addressCmdRun(cmd *cobra.Command, args []string) error {
	b, err := hex.DecodeString(addressFlags.secretKey)
	if err != nil || len(b) != crypto.KeySize {
		return fmt.Errorf("secret key must be %d hex encoded bytes", crypto.KeySize)
	}
	var secret [crypto.KeySize]byte
	copy(secret[:], b)

	kp, err := crypto.FromSecretKey(secret)
	if err != nil {
		return err
	}
	defer crypto.WipeKeyPair(kp)

	addr, err := address.Generate(kp, address.Location{Lat: addressFlags.lat, Lon: addressFlags.lon})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, addr)
	fmt.Fprintf(out, "geohash: %s\n", addr.Geohash)
	return nil
}
