package snowflake

import "sync"

var defaultGenerator = sync.OnceValue(func() *Generator {
	// default options always validate
	o, _ := buildOptions(nil)
	nodeID, _ := AutoNodeID(o.layout)
	return newGenerator(nodeID, o)
})

// Default returns the process-wide generator. It is built on first use, with
// an auto-derived node id, DefaultLayout and DefaultEpoch.
func Default() *Generator {
	return defaultGenerator()
}

// NextID mints from Default.
func NextID() (int64, error) {
	return Default().NextID()
}
