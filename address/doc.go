// Package address implements mesh addressing: the 256-bit node address,
// its textual and binary encodings, and the proximity primitives used for
// routing.
//
// An address packs a protocol version, a 4-bit kind, a 4-character
// geohash of the node's approximate location, the node's 128-bit
// identifier, and a CRC16 checksum:
//
//	kp, _ := crypto.GenerateKeyPair()
//	addr, err := address.Generate(kp, address.Location{Lat: 52.52, Lon: 13.40})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(addr) // ipv7:u33d:<32 hex chars>
//
// Two kinds of closeness are used. Geographic closeness is the length of
// the common geohash prefix; identifier closeness is the XOR distance of
// node identifiers (the Kademlia metric). RoutingDistance folds both into
// one comparable scalar, geohash first.
package address
