package provisioner

import (
	"strings"

	"github.com/core-tools/hsu-panel/pkg/errors"
)

const MaxNameLength = 64

// ValidateName checks an instance name against path traversal and
// malformed identifiers. It performs no I/O.
func ValidateName(name string, excluded []string) error {
	if name == "" {
		return errors.NewInvalidNameError(name, "name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return errors.NewInvalidNameError(name, "name is too long")
	}
	if strings.Contains(name, "..") {
		return errors.NewInvalidNameError(name, "name cannot contain '..'")
	}
	if strings.ContainsAny(name, `/\`) {
		return errors.NewInvalidNameError(name, "name cannot contain path separators")
	}
	if strings.HasPrefix(name, ".") {
		return errors.NewInvalidNameError(name, "name cannot start with '.'")
	}

	for _, char := range name {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '-' || char == '_' || char == '.') {
			return errors.NewInvalidNameError(name, "name can only contain letters, digits, '-', '_' and '.'")
		}
	}

	for _, dir := range excluded {
		if strings.EqualFold(name, dir) {
			return errors.NewInvalidNameError(name, "name is reserved")
		}
	}

	return nil
}
