package launch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/flowstack/internal/core/stack"
)

func TestBuildPlan(t *testing.T) {
	spec := &stack.StackSpec{Services: []stack.Service{
		{
			Name:        "server",
			Image:       "ghcr.io/acme/server:1.4.0",
			DependsOn:   []string{"db"},
			Environment: map[string]string{"DATABASE_URL": "postgres://${DB_HOST:-db}/app"},
			Labels:      map[string]string{"team": "platform"},
		},
		{
			Name:  "db",
			Image: "postgres:16.3",
			Ports: []stack.Port{{Target: 5432, Published: 5432}},
			Mounts: []stack.Mount{
				{Type: stack.MountTypeVolume, Source: "db-data", Target: "/var/lib/postgresql/data"},
			},
		},
	}}

	plan := BuildPlan("stk-1", spec, nil)

	assert.Equal(t, "stk-1", plan.StackID)
	assert.Equal(t, "flowstack_stk-1", plan.NetworkName)
	require.Len(t, plan.Containers, 2)

	// Dependency order: db before server.
	db := plan.Containers[0]
	assert.Equal(t, "db", db.ServiceName)
	assert.Equal(t, "flowstack_stk-1_db", db.ContainerName)
	require.Len(t, db.Mounts, 1)
	assert.Equal(t, "flowstack_stk-1_db-data", db.Mounts[0].Source)

	server := plan.Containers[1]
	assert.Equal(t, "server", server.ServiceName)
	assert.Equal(t, "postgres://db/app", server.Env["DATABASE_URL"])
	assert.Equal(t, "platform", server.Labels["team"])
	assert.Equal(t, "stk-1", server.Labels[StackIDLabel])
	assert.Equal(t, "server", server.Labels[ServiceLabel])
}

func TestBuildPlan_VariablesRendered(t *testing.T) {
	spec := &stack.StackSpec{Services: []stack.Service{{
		Name:        "app",
		Image:       "acme/app:1.0",
		Environment: map[string]string{"TOKEN": "${API_TOKEN}"},
	}}}

	plan := BuildPlan("stk-2", spec, map[string]string{"API_TOKEN": "abc123"})
	require.Len(t, plan.Containers, 1)
	assert.Equal(t, "abc123", plan.Containers[0].Env["TOKEN"])
}

func TestBuildPlan_BindMountsPassThrough(t *testing.T) {
	spec := &stack.StackSpec{Services: []stack.Service{{
		Name:  "app",
		Image: "acme/app:1.0",
		Mounts: []stack.Mount{
			{Type: stack.MountTypeBind, Source: "./config", Target: "/etc/app", ReadOnly: true},
		},
	}}}

	plan := BuildPlan("stk-3", spec, nil)
	require.Len(t, plan.Containers[0].Mounts, 1)
	assert.Equal(t, "./config", plan.Containers[0].Mounts[0].Source)
	assert.True(t, plan.Containers[0].Mounts[0].ReadOnly)
}
