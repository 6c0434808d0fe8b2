// Package name defines the container naming conventions shared with
// external tooling. Project runtime containers are named
// project-{id}-{slot}, named standalone containers container-{name}, and
// single-use builder containers build-{uuid}.
package name

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	projectPrefix   = "project-"
	containerPrefix = "container-"
	buildPrefix     = "build-"
)

// validLabel matches DNS-safe project and container names: lowercase
// alphanumeric with inner hyphens, max 63 chars.
var validLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidateLabel reports whether s is a DNS-safe label usable as a project
// or named-container name.
func ValidateLabel(s string) error {
	if !validLabel.MatchString(s) {
		return fmt.Errorf("invalid name %q: must be a DNS-safe lowercase label", s)
	}
	return nil
}

// ProjectContainer returns the canonical runtime container name for a
// project slot, e.g. "project-3-green".
func ProjectContainer(projectID int64, slot string) string {
	return projectPrefix + strconv.FormatInt(projectID, 10) + "-" + strings.ToLower(slot)
}

// ParseProjectContainer extracts the project id and slot from a runtime
// container name. ok is false when the name is not a project container.
func ParseProjectContainer(containerName string) (projectID int64, slot string, ok bool) {
	rest, found := strings.CutPrefix(containerName, projectPrefix)
	if !found {
		return 0, "", false
	}
	idStr, slot, found := strings.Cut(rest, "-")
	if !found {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || (slot != "blue" && slot != "green") {
		return 0, "", false
	}
	return id, slot, true
}

// NamedContainer returns the canonical name for a standalone container,
// e.g. "container-redis".
func NamedContainer(containerName string) string {
	return containerPrefix + containerName
}

// ParseNamedContainer extracts the logical name from a standalone
// container's runtime name.
func ParseNamedContainer(containerName string) (string, bool) {
	return strings.CutPrefix(containerName, containerPrefix)
}

// BuildContainer returns a fresh single-use builder container name,
// e.g. "build-1b4e28ba-2fa1-11d2-883f-0016d3cca427".
func BuildContainer() string {
	return buildPrefix + uuid.NewString()
}

// IsBuildContainer reports whether a container name belongs to a builder.
func IsBuildContainer(containerName string) bool {
	return strings.HasPrefix(containerName, buildPrefix)
}
