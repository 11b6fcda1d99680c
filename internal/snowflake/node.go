package snowflake

import (
	"crypto/rand"
	"encoding/binary"
	"net"

	"github.com/cespare/xxhash/v2"
)

// listInterfaces is swapped in tests.
var listInterfaces = net.Interfaces

// AutoNodeID derives a node id for layout from the hardware address of the
// first non-loopback network interface that has one. Without such an
// interface it falls back to a random node id and reports fromHardware=false;
// random ids may collide across a fleet.
func AutoNodeID(layout Layout) (nodeID int64, fromHardware bool) {
	maxNode := layout.MaxNodeID()
	if addr, ok := primaryHardwareAddr(); ok {
		return int64(xxhash.Sum64(addr) & uint64(maxNode)), true
	}
	return randomNodeID(maxNode), false
}

func primaryHardwareAddr() (net.HardwareAddr, bool) {
	ifaces, err := listInterfaces()
	if err != nil {
		return nil, false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr, true
	}
	return nil, false
}

func randomNodeID(maxNode int64) int64 {
	var b [8]byte
	// crypto/rand.Read does not fail on supported platforms.
	_, _ = rand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]) & uint64(maxNode))
}
