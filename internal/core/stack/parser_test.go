package stack

import (
	"testing"

	"github.com/compose-spec/compose-go/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Parse Tests
// =============================================================================

func TestParseStackSpec_FullDescriptor(t *testing.T) {
	spec, err := ParseStackSpec(`
services:
  db:
    image: postgres:16.3
    environment:
      POSTGRES_PASSWORD: dev
    ports:
      - "5432:5432"
    volumes:
      - db-data:/var/lib/postgresql/data
  server:
    image: ghcr.io/acme/server:1.4.0
    depends_on:
      - db
    ports:
      - "7233:7233"
    restart: unless-stopped

volumes:
  db-data: {}

networks:
  backend:
    driver: bridge
`)
	require.NoError(t, err)

	require.Len(t, spec.Services, 2)
	// Services come back sorted by name.
	assert.Equal(t, "db", spec.Services[0].Name)
	assert.Equal(t, "server", spec.Services[1].Name)

	db := spec.Services[0]
	assert.Equal(t, "postgres:16.3", db.Image)
	assert.Equal(t, "dev", db.Environment["POSTGRES_PASSWORD"])
	require.Len(t, db.Ports, 1)
	assert.Equal(t, uint32(5432), db.Ports[0].Target)
	assert.Equal(t, uint32(5432), db.Ports[0].Published)
	require.Len(t, db.Mounts, 1)
	assert.Equal(t, MountTypeVolume, db.Mounts[0].Type)
	assert.Equal(t, "/var/lib/postgresql/data", db.Mounts[0].Target)

	server := spec.Services[1]
	assert.Equal(t, []string{"db"}, server.DependsOn)
	assert.Equal(t, RestartPolicy("unless-stopped"), server.Restart)

	require.Len(t, spec.Volumes, 1)
	assert.Equal(t, "db-data", spec.Volumes[0].Name)
	require.Len(t, spec.Networks, 1)
	assert.Equal(t, "bridge", spec.Networks[0].Driver)
}

func TestParseStackSpec_EmptyInput(t *testing.T) {
	_, err := ParseStackSpec("")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = ParseStackSpec("   \n\t ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParseStackSpec_InvalidYAML(t *testing.T) {
	_, err := ParseStackSpec("services: [broken")
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParseStackSpec_NoServices(t *testing.T) {
	_, err := ParseStackSpec("volumes:\n  data: {}\n")
	assert.ErrorIs(t, err, ErrNoServices)
}

func TestParseStackSpec_ServiceWithoutImage(t *testing.T) {
	_, err := ParseStackSpec(`
services:
  app:
    command: ["sleep", "infinity"]
`)
	assert.ErrorIs(t, err, ErrServiceNoImage)
}

func TestParseStackSpec_BuildRejected(t *testing.T) {
	_, err := ParseStackSpec(`
services:
  app:
    image: acme/app:1.0
    build: .
`)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestParseStackSpec_SecretsRejected(t *testing.T) {
	_, err := ParseStackSpec(`
services:
  app:
    image: acme/app:1.0
secrets:
  api_key:
    environment: API_KEY
`)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestParseStackSpec_UnknownDependencySuggests(t *testing.T) {
	_, err := ParseStackSpec(`
services:
  database:
    image: postgres:16.3
  app:
    image: acme/app:1.0
    depends_on:
      - databse
`)
	require.ErrorIs(t, err, ErrUnknownDependency)
	assert.Contains(t, err.Error(), `did you mean "database"?`)
}

func TestParseStackSpec_CircularDependency(t *testing.T) {
	_, err := ParseStackSpec(`
services:
  a:
    image: acme/a:1.0
    depends_on: [b]
  b:
    image: acme/b:1.0
    depends_on: [a]
`)
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestParseStackSpec_PublishedPortRangeRejected(t *testing.T) {
	svc := types.ServiceConfig{
		Name:  "web",
		Image: "acme/web:1.0",
		Ports: []types.ServicePortConfig{{Target: 80, Published: "8080-8090"}},
	}

	_, err := convertService(svc)
	require.ErrorIs(t, err, ErrServiceInvalidPort)
	assert.Contains(t, err.Error(), "8080-8090")
}

func TestParseStackSpec_BindMountInferred(t *testing.T) {
	spec, err := ParseStackSpec(`
services:
  app:
    image: acme/app:1.0
    volumes:
      - ./config:/etc/app:ro
`)
	require.NoError(t, err)

	require.Len(t, spec.Services[0].Mounts, 1)
	m := spec.Services[0].Mounts[0]
	assert.Equal(t, MountTypeBind, m.Type)
	assert.Equal(t, "/etc/app", m.Target)
	assert.True(t, m.ReadOnly)
}

// =============================================================================
// Accessor Tests
// =============================================================================

func TestServiceByName(t *testing.T) {
	spec, err := ParseStackSpec(`
services:
  db:
    image: postgres:16.3
`)
	require.NoError(t, err)

	svc, ok := spec.ServiceByName("db")
	assert.True(t, ok)
	assert.Equal(t, "postgres:16.3", svc.Image)

	_, ok = spec.ServiceByName("missing")
	assert.False(t, ok)
}
