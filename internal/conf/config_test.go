package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	settings, err := Load(writeConfig(t, "main:\n  name: test-node\n"))

	require.NoError(t, err)
	assert.Equal(t, "test-node", settings.Main.Name)
	assert.True(t, settings.Output.SQLite.Enabled)
	assert.Equal(t, "inspectra.db", settings.Output.SQLite.Path)
	assert.Equal(t, "media", settings.Media.BasePath)
	assert.Equal(t, 30*time.Second, settings.Inference.Timeout)
	assert.Equal(t, 60*time.Second, settings.Compositor.Timeout)
	assert.Empty(t, settings.Inference.Profiles)
}

func TestLoad_Profiles(t *testing.T) {
	settings, err := Load(writeConfig(t, `
inference:
  timeout: 15s
  profiles:
    - name: standard
      version: v2
      active: true
      endpoints:
        - name: abnormality
          servicetype: abnormality
          url: http://inference.local/abnormality
          active: true
        - name: lung
          servicetype: lung_segmentation
          url: http://inference.local/lung
          active: false
    - name: legacy
      version: v1
      active: false
`))

	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, settings.Inference.Timeout)
	require.Len(t, settings.Inference.Profiles, 2)

	active := settings.ActiveProfiles()
	require.Len(t, active, 1)
	assert.Equal(t, "v2", active[0].Version)

	endpoints := active[0].ActiveEndpoints()
	require.Len(t, endpoints, 1)
	assert.Equal(t, ServiceAbnormality, endpoints[0].ServiceType)

	profile, err := settings.ProfileForVersion("v1")
	require.NoError(t, err)
	assert.Equal(t, "legacy", profile.Name)

	_, err = settings.ProfileForVersion("v9")
	require.Error(t, err)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{
			name: "missing_version_tag",
			config: `
inference:
  profiles:
    - name: standard
      active: true
`,
			wantErr: "no version tag",
		},
		{
			name: "duplicate_version_tag",
			config: `
inference:
  profiles:
    - name: a
      version: v2
    - name: b
      version: v2
`,
			wantErr: "duplicate profile version",
		},
		{
			name: "unknown_service_type",
			config: `
inference:
  profiles:
    - name: standard
      version: v2
      endpoints:
        - name: mystery
          servicetype: phrenology
          url: http://inference.local/mystery
`,
			wantErr: "unknown service type",
		},
		{
			name: "active_endpoint_without_url",
			config: `
inference:
  profiles:
    - name: standard
      version: v2
      endpoints:
        - name: abnormality
          servicetype: abnormality
          active: true
`,
			wantErr: "no URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.config))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServiceType_IsSegmentation(t *testing.T) {
	assert.False(t, ServiceAbnormality.IsSegmentation())
	assert.False(t, ServiceTuberculosis.IsSegmentation())
	assert.False(t, ServicePneumothorax.IsSegmentation())
	assert.True(t, ServiceLungSegmentation.IsSegmentation())
	assert.True(t, ServicePleuralEffusionSegmentation.IsSegmentation())
	assert.True(t, ServicePneumothoraxSegmentation.IsSegmentation())
}

func TestHeatmapSettingFor(t *testing.T) {
	settings := &Settings{}
	settings.Overlay.Settings = map[string]HeatmapSetting{
		"Nodule": {Gamma: 2.0, Alpha: 0.3},
	}

	assert.Equal(t, HeatmapSetting{Gamma: 2.0, Alpha: 0.3}, settings.HeatmapSettingFor("Nodule"))
	assert.Equal(t, DefaultHeatmapSetting, settings.HeatmapSettingFor("Fibrosis"))
}
