package daemon

import "github.com/SikeGottem/agent-comms/internal/config"

// StartOptions configures the daemon. Config is the fully resolved
// configuration (file, env and flags); nil loads <home>/config.yaml and env.
type StartOptions struct {
	Home      string
	Dev       bool
	PprofAddr string
	Config    *config.File
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
