// nolint: gochecknoglobals
package idgenerator

import (
	"github.com/gofrs/uuid/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	NodeIDLength                = 10
	RedisNamespaceForTestLength = 10
)

// alphabet used in ID generation.
var alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// EventID generates a random UUIDv4 used as an event ID, if the caller doesn't provide one.
func EventID() string {
	return uuid.Must(uuid.NewV4()).String()
}

func NodeID() string {
	return gonanoid.MustGenerate(alphabet, NodeIDLength)
}

func RedisNamespaceForTest() string {
	return gonanoid.MustGenerate(alphabet, RedisNamespaceForTestLength)
}

func Random(length int) string {
	return gonanoid.MustGenerate(alphabet, length)
}
