//go:build windows

package engine

import "os/exec"

// configureProcessGroup keeps the default Kill on cancellation.
func configureProcessGroup(cmd *exec.Cmd) {}

func detach(cmd *exec.Cmd) {}
