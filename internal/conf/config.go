// config.go: This file contains the configuration for the Inspectra-Go pipeline. It defines
// the settings struct and the functions to load settings from file and environment.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServiceType identifies the kind of inference microservice behind an endpoint.
type ServiceType string

const (
	ServiceAbnormality                 ServiceType = "abnormality"
	ServiceTuberculosis                ServiceType = "tuberculosis"
	ServicePneumothorax                ServiceType = "pneumothorax"
	ServiceLungSegmentation            ServiceType = "lung_segmentation"
	ServicePleuralEffusionSegmentation ServiceType = "pleural_effusion_segmentation"
	ServicePneumothoraxSegmentation    ServiceType = "pneumothorax_segmentation"
)

// IsSegmentation reports whether the service returns per-class masks instead of
// per-disease classification scores.
func (s ServiceType) IsSegmentation() bool {
	return strings.HasSuffix(string(s), "_segmentation")
}

// Valid reports whether the service type is one of the known values.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceAbnormality, ServiceTuberculosis, ServicePneumothorax,
		ServiceLungSegmentation, ServicePleuralEffusionSegmentation, ServicePneumothoraxSegmentation:
		return true
	}
	return false
}

// EndpointConfig describes one inference microservice endpoint.
type EndpointConfig struct {
	Name        string      // human readable endpoint name
	ServiceType ServiceType `mapstructure:"servicetype"` // service type enum
	URL         string      // endpoint URL
	Active      bool        // inactive endpoints are skipped by the fan-out
}

// ProfileConfig is a named, versioned set of endpoints invoked together for one case.
// A profile is resolved by its explicit Version tag, never by name matching.
type ProfileConfig struct {
	Name      string           // profile name, e.g. "inspectra CXR"
	Version   string           // explicit version tag, e.g. "v3.5.1"
	Active    bool             // inactive profiles are never run
	Endpoints []EndpointConfig // endpoints belonging to this model generation
}

// ActiveEndpoints returns the endpoints of the profile that are marked active.
func (p *ProfileConfig) ActiveEndpoints() []EndpointConfig {
	active := make([]EndpointConfig, 0, len(p.Endpoints))
	for _, ep := range p.Endpoints {
		if ep.Active {
			active = append(active, ep)
		}
	}
	return active
}

// HeatmapSetting is the per-finding render setting handed to the compositor.
type HeatmapSetting struct {
	Gamma float64 // gamma correction applied to the heatmap
	Alpha float64 // blend opacity over the radiograph
}

// LogConfig contains settings for log rotation.
type LogConfig struct {
	Enabled bool   // true to write a rotating log file
	Path    string // path to log file
	MaxSize int64  // max log file size in bytes before rotation
}

// Settings contains all runtime configuration for the pipeline.
type Settings struct {
	Debug bool // true to enable debug level logging

	Main struct {
		Name string    // node name for logs
		Log  LogConfig // log file settings
	}

	Output struct {
		SQLite struct {
			Enabled bool   // true to use SQLite
			Path    string // path to SQLite database file
		}
		MySQL struct {
			Enabled  bool   // true to use MySQL
			Username string // MySQL username
			Password string // MySQL password
			Database string // MySQL database name
			Host     string // MySQL host
			Port     string // MySQL port
		}
	}

	Media struct {
		BasePath string // root directory of the blob store
	}

	Inference struct {
		Timeout  time.Duration   // per-endpoint call timeout
		Profiles []ProfileConfig // model generations to run per case
	}

	Compositor struct {
		URL     string        // compositor service URL, empty disables compositing
		Timeout time.Duration // compositor call timeout
	}

	Overlay struct {
		// Settings maps a finding name to its render setting. Findings without
		// an entry use DefaultHeatmapSetting.
		Settings map[string]HeatmapSetting
	}
}

// DefaultHeatmapSetting is used for findings without a configured render setting.
var DefaultHeatmapSetting = HeatmapSetting{Gamma: 1.0, Alpha: 0.5}

// HeatmapSettingFor returns the configured render setting for a finding,
// falling back to DefaultHeatmapSetting.
func (s *Settings) HeatmapSettingFor(finding string) HeatmapSetting {
	if hs, ok := s.Overlay.Settings[finding]; ok {
		return hs
	}
	return DefaultHeatmapSetting
}

// ActiveProfiles returns all active profiles in configuration order.
func (s *Settings) ActiveProfiles() []ProfileConfig {
	profiles := make([]ProfileConfig, 0, len(s.Inference.Profiles))
	for _, p := range s.Inference.Profiles {
		if p.Active {
			profiles = append(profiles, p)
		}
	}
	return profiles
}

// ProfileForVersion resolves a profile by its exact version tag.
func (s *Settings) ProfileForVersion(version string) (ProfileConfig, error) {
	for _, p := range s.Inference.Profiles {
		if p.Version == version {
			return p, nil
		}
	}
	return ProfileConfig{}, fmt.Errorf("no profile configured for version %q", version)
}

// Load reads settings from the given config file, or from the default search
// paths when configPath is empty.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/inspectra-go")
		v.AddConfigPath("/etc/inspectra-go")
	}

	v.SetEnvPrefix("inspectra")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file found, defaults apply.
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("main.name", "inspectra-go")
	v.SetDefault("main.log.enabled", false)
	v.SetDefault("main.log.path", "inspectra-go.log")
	v.SetDefault("main.log.maxsize", 10*1024*1024)
	v.SetDefault("output.sqlite.enabled", true)
	v.SetDefault("output.sqlite.path", "inspectra.db")
	v.SetDefault("output.mysql.enabled", false)
	v.SetDefault("output.mysql.host", "localhost")
	v.SetDefault("output.mysql.port", "3306")
	v.SetDefault("media.basepath", "media")
	v.SetDefault("inference.timeout", 30*time.Second)
	v.SetDefault("compositor.timeout", 60*time.Second)
}

func validate(s *Settings) error {
	seen := make(map[string]bool, len(s.Inference.Profiles))
	for i := range s.Inference.Profiles {
		p := &s.Inference.Profiles[i]
		if p.Version == "" {
			return fmt.Errorf("profile %q has no version tag", p.Name)
		}
		if seen[p.Version] {
			return fmt.Errorf("duplicate profile version tag %q", p.Version)
		}
		seen[p.Version] = true
		for j := range p.Endpoints {
			ep := &p.Endpoints[j]
			if !ep.ServiceType.Valid() {
				return fmt.Errorf("profile %q endpoint %q: unknown service type %q", p.Name, ep.Name, ep.ServiceType)
			}
			if ep.Active && ep.URL == "" {
				return fmt.Errorf("profile %q endpoint %q: active endpoint has no URL", p.Name, ep.Name)
			}
		}
	}
	return nil
}
