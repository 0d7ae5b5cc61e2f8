//go:build unix

package spawn

import (
	"os"
	"syscall"
)

// defaultSysProcAttr returns process attributes for Unix systems. The child
// gets its own process group so terminal signals aimed at the caller do not
// reach it.
func defaultSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
}

// classify maps a Unix wait status onto Status.
func classify(state *os.ProcessState, st *Status) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		st.Unknown = true
		return
	}
	switch {
	case ws.Exited():
		st.ExitCode = ws.ExitStatus()
	case ws.Signaled():
		st.Signaled = true
		st.Signal = ws.Signal().String()
	default:
		st.Unknown = true
	}
}
