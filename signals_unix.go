//go:build !windows

package main

import (
	"os"
	"syscall"
)

// SIGUSR1 hangs up the current call, SIGUSR2 resets the modem session.
var (
	hangupSignal os.Signal = syscall.SIGUSR1
	resetSignal  os.Signal = syscall.SIGUSR2

	controlSignals = []os.Signal{hangupSignal, resetSignal}
)
