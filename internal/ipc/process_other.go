//go:build !linux

package ipc

import "os/exec"

// applyMemoryCap has no platform-specific enforcement path outside Linux;
// the cap is recorded as advisory only.
func applyMemoryCap(cmd *exec.Cmd, bytes int64) bool {
	return false
}
