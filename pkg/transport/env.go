package transport

import (
	"fmt"
	"os"
)

// DefaultEnvironment returns the hub's own environment plus markers that
// keep common runtimes from block-buffering stdout. A server that buffers
// its ready line stalls the handshake until its buffer flushes.
func DefaultEnvironment() []string {
	env := os.Environ()
	env = append(env, "PYTHONUNBUFFERED=1")
	return env
}

// mergeEnv layers per-server overrides on top of the default environment.
// Later entries win in exec.Cmd, so overrides simply append.
func mergeEnv(overrides map[string]string) []string {
	env := DefaultEnvironment()
	for k, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
