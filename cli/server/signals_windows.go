//go:build windows

package server

import "syscall"

// sighup doesn't really mean anything on Windows; kept so server.go
// doesn't need a build-tagged branch just to pick a signal.
const sighup = syscall.SIGHUP
