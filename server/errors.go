package server

import (
	"errors"
	"fmt"

	"arenasync/protocol"
)

var errPlayerID = errors.New("player id must be 1-64 bytes")

func errUnexpected(t string) error {
	return fmt.Errorf("expected %s, got %q", protocol.TypeHello, t)
}

func errVersion(v string) error {
	return fmt.Errorf("unsupported protocol version %q, server speaks %s", v, protocol.Version)
}
