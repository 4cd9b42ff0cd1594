package app

import (
	"os"
	"syscall"
)

// StopReason says why the app is shutting down. It is logged and decides
// the process exit code.
type StopReason string

const (
	StopUnknown      StopReason = "unknown"
	StopSIGINT       StopReason = "sigint"
	StopSIGTERM      StopReason = "sigterm"
	StopFatalError   StopReason = "fatal_error"
	StopAllConcluded StopReason = "all_concluded"
	StopOperatorQuit StopReason = "operator_quit"
)

func ReasonForSignal(sig os.Signal) StopReason {
	switch sig {
	case os.Interrupt:
		return StopSIGINT
	case syscall.SIGTERM:
		return StopSIGTERM
	default:
		return StopUnknown
	}
}

// Failed reports whether the process should exit non-zero.
func (r StopReason) Failed() bool { return r == StopFatalError }
