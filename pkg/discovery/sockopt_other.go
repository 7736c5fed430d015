//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package discovery

import "syscall"

// Only one node per host can bind the discovery port here.
func reuseControl(_, _ string, _ syscall.RawConn) error { return nil }
