// Package iface resolves capture interface indexes to names. Resolution is a
// platform capability: loggers that enrich records with an interface name
// take a Resolver and simply omit the field when the capability is absent or
// the index is unknown.
package iface

import "net"

// Resolver maps an interface index to its name.
type Resolver interface {
	// Name returns the interface name for index and whether resolution
	// succeeded. Implementations must be safe for concurrent use.
	Name(index int) (string, bool)
}

type systemResolver struct{}

func (systemResolver) Name(index int) (string, bool) {
	ifi, err := net.InterfaceByIndex(index)
	if err != nil || ifi.Name == "" {
		return "", false
	}
	return ifi.Name, true
}

// System returns a Resolver backed by the operating system's interface table.
func System() Resolver {
	return systemResolver{}
}

type nopResolver struct{}

func (nopResolver) Name(int) (string, bool) { return "", false }

// Nop returns a Resolver that never resolves, for platforms without an
// interface table or tests that want the field omitted.
func Nop() Resolver {
	return nopResolver{}
}
