package main

import "crypto/rand"

// peerIDPrefix is the BEP-20-style azureus client identifier embedded in
// every generated peer ID.
const peerIDPrefix = "-LE0001-"

// generatePeerID builds a 20-byte peer ID: the client prefix followed by
// random bytes, as sent in every handshake and tracker announce.
func generatePeerID() [20]byte {
	var id [20]byte
	copy(id[:], peerIDPrefix)
	rand.Read(id[len(peerIDPrefix):])
	return id
}
