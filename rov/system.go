// Package rov contains the top-level control loop binding the command link,
// motor controller, sensor monitors, and power sequencing together.
package rov

import (
	"context"
	"os/exec"
)

// System is the opaque boundary over privileged OS power operations.
type System interface {
	Shutdown(ctx context.Context) error
	Reboot(ctx context.Context) error
}

type osSystem struct{}

// NewOSSystem returns a System invoking the host's shutdown and reboot
// commands. rovd runs as a user with sudo rights to exactly these.
func NewOSSystem() System {
	return osSystem{}
}

func (osSystem) Shutdown(ctx context.Context) error {
	return exec.CommandContext(ctx, "sudo", "shutdown", "now").Run()
}

func (osSystem) Reboot(ctx context.Context) error {
	return exec.CommandContext(ctx, "sudo", "reboot").Run()
}
