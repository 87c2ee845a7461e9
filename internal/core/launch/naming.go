package launch

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// NetworkName generates the network name for a stack.
// Pattern: flowstack_{stackID}
func NetworkName(stackID string) string {
	return fmt.Sprintf("flowstack_%s", stackID)
}

// VolumeName generates a volume name for a stack.
// Pattern: flowstack_{stackID}_{volumeName}
func VolumeName(stackID, volumeName string) string {
	return fmt.Sprintf("flowstack_%s_%s", stackID, volumeName)
}

// ContainerName generates the container name for a service in a stack.
// Pattern: flowstack_{stackID}_{serviceName}
func ContainerName(stackID, serviceName string) string {
	return fmt.Sprintf("flowstack_%s_%s", stackID, serviceName)
}
