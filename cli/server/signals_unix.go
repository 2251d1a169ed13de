//go:build !windows

package server

import "syscall"

// sighup triggers a live config reread: log level and, once other
// hot-reloadable settings exist, those too.
const sighup = syscall.SIGHUP
