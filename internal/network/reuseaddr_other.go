//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns a plain ListenConfig on platforms where the
// listener keeps the default socket options.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
