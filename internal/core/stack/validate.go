package stack

import (
	"fmt"
	"strings"

	"github.com/artpar/flowstack/internal/core/suggest"
)

// DynamicConfigEnvKey is the environment variable a service uses to
// point its process at a mounted dynamic configuration file.
const DynamicConfigEnvKey = "DYNAMIC_CONFIG_FILE_PATH"

// =============================================================================
// Dependency Validation
// =============================================================================

// validateDependencies checks that every depends_on entry names a
// declared service and that the dependency graph is acyclic.
func validateDependencies(services []Service) error {
	names := make([]string, 0, len(services))
	known := make(map[string]bool, len(services))
	for _, svc := range services {
		names = append(names, svc.Name)
		known[svc.Name] = true
	}

	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			if known[dep] {
				continue
			}
			msg := fmt.Sprintf("depends_on references unknown service %q", dep)
			if hint := suggest.Closest(dep, names); hint != "" {
				msg += fmt.Sprintf(" (did you mean %q?)", hint)
			}
			return NewParseError("services."+svc.Name+".depends_on", msg, ErrUnknownDependency)
		}
	}

	return detectCircularDependencies(services)
}

// detectCircularDependencies detects cycles in service dependencies.
func detectCircularDependencies(services []Service) error {
	deps := make(map[string][]string)
	for _, svc := range services {
		deps[svc.Name] = svc.DependsOn
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = true
		recStack[node] = true

		for _, dep := range deps[node] {
			if dep == node {
				return true
			}
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}

		recStack[node] = false
		return false
	}

	for _, svc := range services {
		if !visited[svc.Name] {
			if hasCycle(svc.Name) {
				return ErrCircularDependency
			}
		}
	}

	return nil
}

// =============================================================================
// Structural Validation
// =============================================================================

// ValidateStackSpec performs the structural checks a descriptor must
// pass before launch. Returns all violations found.
func ValidateStackSpec(spec *StackSpec) []error {
	var errs []error
	errs = append(errs, ValidatePinnedImages(spec)...)
	errs = append(errs, ValidateHostPorts(spec)...)
	errs = append(errs, ValidateConfigMounts(spec)...)
	return errs
}

// ValidatePinnedImages checks that every image reference carries an
// explicit, non-floating tag. "latest" pins nothing: the stack would
// silently change underneath the developer on the next pull.
func ValidatePinnedImages(spec *StackSpec) []error {
	var errs []error

	for _, svc := range spec.Services {
		tag := imageTag(svc.Image)
		field := "services." + svc.Name + ".image"
		switch {
		case tag == "":
			errs = append(errs, NewParseError(field,
				fmt.Sprintf("image %q has no tag; pin an explicit version", svc.Image),
				ErrUnpinnedImage))
		case tag == "latest":
			errs = append(errs, NewParseError(field,
				fmt.Sprintf("image %q uses the floating tag \"latest\"; pin an explicit version", svc.Image),
				ErrUnpinnedImage))
		}
	}

	return errs
}

// imageTag extracts the tag from an image reference. Digested
// references (name@sha256:...) count as pinned and return the digest.
func imageTag(ref string) string {
	if i := strings.LastIndex(ref, "@"); i >= 0 {
		return ref[i+1:]
	}
	// A colon after the last slash separates the tag; a colon before it
	// belongs to a registry host:port.
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon > slash {
		return ref[colon+1:]
	}
	return ""
}

// ValidateHostPorts checks that declared host ports are mutually
// distinct across services.
func ValidateHostPorts(spec *StackSpec) []error {
	var errs []error
	claimed := make(map[uint32]string) // host port -> first claiming service

	for _, svc := range spec.Services {
		for i, port := range svc.Ports {
			if port.Published == 0 {
				continue // dynamically assigned, cannot collide
			}
			if owner, taken := claimed[port.Published]; taken {
				errs = append(errs, NewParseError(
					fmt.Sprintf("services.%s.ports[%d]", svc.Name, i),
					fmt.Sprintf("host port %d already declared by service %q", port.Published, owner),
					ErrDuplicateHostPort))
				continue
			}
			claimed[port.Published] = svc.Name
		}
	}

	return errs
}

// ValidateConfigMounts checks that any service pointing an environment
// variable at a dynamic configuration file also mounts something at
// that exact container path.
func ValidateConfigMounts(spec *StackSpec) []error {
	var errs []error

	for _, svc := range spec.Services {
		path, ok := svc.Environment[DynamicConfigEnvKey]
		if !ok || path == "" {
			continue
		}

		mounted := false
		for _, m := range svc.Mounts {
			if m.Target == path || strings.HasPrefix(path, strings.TrimSuffix(m.Target, "/")+"/") {
				mounted = true
				break
			}
		}
		if !mounted {
			errs = append(errs, NewParseError(
				"services."+svc.Name+".environment."+DynamicConfigEnvKey,
				fmt.Sprintf("%s points at %q but no mount covers that path", DynamicConfigEnvKey, path),
				ErrConfigNotMounted))
		}
	}

	return errs
}
