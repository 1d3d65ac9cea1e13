// Package schema defines the Redis keyspace of the scheduler and the atomic operations over it.
//
// All keys share the configured namespace prefix:
//   - <ns>:gl - hash, legacy counters.
//   - <ns>:ch - list, roster of node channels, the most recently active node first.
//   - <ns>:ei - sorted set, pending events scored by the due time.
//   - <ns>:ed - hash, event id to the serialized event.
//   - <ns>:et - sorted set, in-flight events scored by the confirmation deadline.
//
// Each node subscribes to its own channel <ns>:ch:<nodeId>.
package schema

import (
	"strings"
)

const DefaultNamespace = "dt"

type Schema struct {
	namespace string
}

func New(namespace string) *Schema {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Schema{namespace: namespace}
}

func (s *Schema) Namespace() string {
	return s.namespace
}

// Global is the legacy counters hash.
func (s *Schema) Global() string {
	return s.namespace + ":gl"
}

// Channels is the roster of node channels.
func (s *Schema) Channels() string {
	return s.namespace + ":ch"
}

// Pending is the sorted set of pending events.
func (s *Schema) Pending() string {
	return s.namespace + ":ei"
}

// Data is the hash of serialized events.
func (s *Schema) Data() string {
	return s.namespace + ":ed"
}

// InFlight is the sorted set of harvested events waiting for a confirmation.
func (s *Schema) InFlight() string {
	return s.namespace + ":et"
}

// NodeChannel returns the private pub/sub channel of the node.
func (s *Schema) NodeChannel(nodeID string) string {
	return s.Channels() + ":" + nodeID
}

func (s *Schema) updateKeys() []string {
	return []string{s.Global(), s.Channels(), s.Pending(), s.Data(), s.InFlight()}
}
