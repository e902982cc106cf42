package truthset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHasPersonaSections(t *testing.T) {
	ts, err := Default()
	require.NoError(t, err)

	assert.Contains(t, ts.Section(SectionProduct), "Ream-only")
	assert.Contains(t, ts.Section(SectionCompatibility), "orientation_rules")
	assert.Contains(t, ts.Section(SectionWorkflow), "full_system")
	assert.Empty(t, ts.Section("nonexistent"))
	assert.Contains(t, ts.String(), "$1,350")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.json")
	require.NoError(t, os.WriteFile(valid, []byte(`{"product":{"name":"X"},"compatibility":{},"instrumentation_and_workflow":{}}`), 0644))

	missing := filepath.Join(dir, "missing.json")
	require.NoError(t, os.WriteFile(missing, []byte(`{"product":{}}`), 0644))

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"product":`), 0644))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "empty path uses default", path: ""},
		{name: "valid file", path: valid},
		{name: "missing section", path: missing, wantErr: true},
		{name: "broken json", path: broken, wantErr: true},
		{name: "no such file", path: filepath.Join(dir, "nope.json"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := Load(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, ts.Section(SectionProduct))
		})
	}
}
