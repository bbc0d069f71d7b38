package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreproxy/coreproxy/internal/model"
)

const sampleYAML = `
worker_min_count: 2
worker_max_count: 16
grace: 5s
log_level: 3
regex_type: pcre
acls:
  internal:
    - "10.0.0.0/8"
backends:
  - name: app1
    kind: regular
    addr: "127.0.0.1:9001"
    priority: 10
  - name: app2
    kind: regular
    addr: "127.0.0.1:9002"
    priority: 5
listeners:
  - addr: ":8080"
    max_req_size: 1048576
    max_uri_length: 8192
    services:
      - name: api
        condition:
          kind: path
          pattern: "^/api/"
          flavor: prefix
        normal:
          algo: random
          members:
            - ref: app1
            - ref: app2
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "coreproxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_BuildsGraph(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.WorkerMinCount)
	assert.Equal(t, 16, cfg.WorkerMaxCount)
	assert.Equal(t, model.RegexPCRE, cfg.RegexType)
	require.Contains(t, cfg.ACLs, "internal")
	require.Len(t, cfg.Listeners, 1)

	l := cfg.Listeners[0]
	require.Len(t, l.Services, 1)
	svc := l.Services[0]
	assert.Equal(t, "api", svc.Name)
	require.NotNil(t, svc.Condition)
	assert.Equal(t, model.LeafPath, svc.Condition.Kind)
	assert.Equal(t, model.FlavorPrefix, svc.Condition.Flavor)

	require.Len(t, svc.Backends.Normal.Backends, 2)
	assert.Equal(t, 15, svc.Backends.Normal.TotPri())
}

func TestLoad_UnresolvedNamedBackend(t *testing.T) {
	path := writeTempConfig(t, `
listeners:
  - addr: ":8080"
    services:
      - name: broken
        normal:
          members:
            - ref: missing
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "unresolved named backend")
}

func TestLoad_UnknownACLReference(t *testing.T) {
	path := writeTempConfig(t, `
listeners:
  - addr: ":8080"
    trusted_ips: nope
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown acl")
}
