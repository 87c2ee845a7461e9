package launch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkName(t *testing.T) {
	assert.Equal(t, "flowstack_stk-1", NetworkName("stk-1"))
}

func TestVolumeName(t *testing.T) {
	assert.Equal(t, "flowstack_stk-1_db-data", VolumeName("stk-1", "db-data"))
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "flowstack_stk-1_db", ContainerName("stk-1", "db"))
}
