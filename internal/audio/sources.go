package audio

import (
	"fmt"
)

// ValidateSource checks that a named capture source exists on the backend and
// that its name is unambiguous.
func ValidateSource(backend AudioBackend, name string) error {
	if name == "" || name == "default" {
		return nil
	}

	sources, err := backend.ListSources()
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}
	return validateSourceInList(name, sources)
}

func validateSourceInList(name string, sources []string) error {
	if name == "" || name == "default" {
		return nil
	}

	duplicates := findSourceDuplicates(name, sources)
	if len(duplicates) == 0 {
		return fmt.Errorf("%w: source not found: %s", ErrDeviceUnavailable, name)
	}
	if len(duplicates) > 1 {
		return fmt.Errorf("%w: %d sources named '%s', select a device by a unique name", ErrDeviceUnavailable, len(duplicates), name)
	}
	return nil
}

// findSourceDuplicates returns every source with exactly the given name
func findSourceDuplicates(name string, sources []string) []string {
	var duplicates []string
	for _, source := range sources {
		if source == name {
			duplicates = append(duplicates, source)
		}
	}
	return duplicates
}
