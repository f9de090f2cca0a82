package validation

import (
	"fmt"
	"regexp"
)

// MaxConfigNameLength bounds user-chosen config names.
const MaxConfigNameLength = 32

var configNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateConfigName checks a user-chosen config name. The name ends up in a file
// name on disk, so only letters, digits, '-' and '_' are allowed.
func ValidateConfigName(name string) error {
	if name == "" {
		return fmt.Errorf("config name cannot be empty")
	}
	if len(name) > MaxConfigNameLength {
		return fmt.Errorf("config name is too long: max %d characters, got %d", MaxConfigNameLength, len(name))
	}
	if !configNameRe.MatchString(name) {
		return fmt.Errorf("config name %q contains invalid characters", name)
	}
	return nil
}
