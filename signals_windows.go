//go:build windows

package main

import "os"

var (
	hangupSignal   os.Signal
	resetSignal    os.Signal
	controlSignals []os.Signal
)
