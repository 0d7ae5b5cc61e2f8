//go:build windows

package spawn

import (
	"os"
	"syscall"
)

// defaultSysProcAttr returns default process attributes for Windows.
// Windows doesn't support Setpgid/Pgid, so we return nil.
func defaultSysProcAttr() *syscall.SysProcAttr {
	return nil
}

// classify maps a Windows exit status onto Status. Windows has no signal
// terminations; every collected child reports an exit code.
func classify(state *os.ProcessState, st *Status) {
	st.ExitCode = state.ExitCode()
}
