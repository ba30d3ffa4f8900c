package process

import (
	"strings"
	"syscall"

	"github.com/core-tools/hsu-panel/pkg/errors"
)

// ParseSignal maps a configured signal name to its value. Names are
// accepted with or without the SIG prefix, in any case.
func ParseSignal(name string) (syscall.Signal, error) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "SIG") {
	case "", "TERM":
		return syscall.SIGTERM, nil
	case "INT":
		return syscall.SIGINT, nil
	case "KILL":
		return syscall.SIGKILL, nil
	case "HUP":
		return syscall.SIGHUP, nil
	}
	return 0, errors.NewValidationError("unsupported signal: "+name, nil)
}
