// Package memory contains the agent memory store. The MemoryStore interface
// lives in core; event statements broadcast by the arbiter land here through
// arbiter.MemoryRelay and are read back when the next step's context is built.
package memory
