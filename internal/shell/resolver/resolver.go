// Package resolver turns a service name plus an environment into a concrete
// deployment descriptor, using a YAML service catalog. All templating and
// variable resolution happens here, before planning: the engine never sees
// anything but fully resolved values.
package resolver

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Resolver Errors
// =============================================================================

var (
	// ErrServiceNotFound is returned when the catalog has no such service.
	ErrServiceNotFound = errors.New("service not found in catalog")

	// ErrEnvironmentNotFound is returned when the service is not released
	// to the requested environment.
	ErrEnvironmentNotFound = errors.New("environment not found for service")

	// ErrInvalidConfig is returned for malformed catalog entries.
	ErrInvalidConfig = errors.New("invalid catalog configuration")

	// ErrHostNotDefined is returned when a service references a host the
	// environment does not define.
	ErrHostNotDefined = errors.New("host not defined in environment")
)

// =============================================================================
// Catalog File Types
// =============================================================================

type catalogFile struct {
	Registry     string                    `yaml:"registry"`
	Environments map[string]environmentDef `yaml:"environments"`
	Services     map[string]serviceDef     `yaml:"services"`
}

type environmentDef struct {
	Hosts []hostDef `yaml:"hosts"`
}

type hostDef struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
	SSHUser string `yaml:"ssh_user"`
	SSHPort int    `yaml:"ssh_port"`
	KeyRef  string `yaml:"key_ref"`
}

type serviceDef struct {
	Kind         string                `yaml:"kind"`
	Image        string                `yaml:"image"`
	Registry     string                `yaml:"registry"`
	UnitName     string                `yaml:"unit_name"`
	UnitTemplate string                `yaml:"unit_template"`
	Health       healthDef             `yaml:"health"`
	Environments map[string]releaseDef `yaml:"environments"`
}

type healthDef struct {
	Endpoint string `yaml:"endpoint"`
	Port     int    `yaml:"port"`
	Interval string `yaml:"interval"`
	Timeout  string `yaml:"timeout"`
}

type releaseDef struct {
	Version         string            `yaml:"version"`
	PreviousVersion string            `yaml:"previous_version"`
	Hosts           []string          `yaml:"hosts"`
	Config          map[string]string `yaml:"config"`
	ConfigFiles     []configFileDef   `yaml:"config_files"`
}

type configFileDef struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
	Mode    uint32 `yaml:"mode"`
}

// =============================================================================
// Catalog
// =============================================================================

// Catalog is a parsed service catalog.
type Catalog struct {
	file catalogFile
}

// LoadCatalog reads and parses the catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses raw catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Catalog{file: file}, nil
}

// =============================================================================
// Resolution
// =============================================================================

// Resolve produces the immutable descriptor for deploying service to
// environment, plus the connection details of every target host.
func (c *Catalog) Resolve(service, environment string) (domain.ServiceDescriptor, []domain.Host, error) {
	var empty domain.ServiceDescriptor

	svc, ok := c.file.Services[service]
	if !ok {
		return empty, nil, fmt.Errorf("%w: %s", ErrServiceNotFound, service)
	}

	release, ok := svc.Environments[environment]
	if !ok {
		return empty, nil, fmt.Errorf("%w: %s/%s", ErrEnvironmentNotFound, service, environment)
	}

	env := c.file.Environments[environment]
	hostsByID := make(map[string]hostDef, len(env.Hosts))
	for _, h := range env.Hosts {
		hostsByID[h.ID] = h
	}

	targets := make([]domain.HostID, 0, len(release.Hosts))
	hosts := make([]domain.Host, 0, len(release.Hosts))
	for _, id := range release.Hosts {
		def, ok := hostsByID[id]
		if !ok {
			return empty, nil, fmt.Errorf("%w: %s in %s", ErrHostNotDefined, id, environment)
		}
		host := domain.Host{
			ID:      domain.HostID(def.ID),
			Address: def.Address,
			SSHUser: def.SSHUser,
			SSHPort: def.SSHPort,
			KeyRef:  def.KeyRef,
		}
		if host.SSHPort == 0 {
			host.SSHPort = 22
		}
		if err := host.Validate(); err != nil {
			return empty, nil, fmt.Errorf("%w: host %s: %w", ErrInvalidConfig, id, err)
		}
		targets = append(targets, host.ID)
		hosts = append(hosts, host)
	}

	health, err := resolveHealth(svc.Health)
	if err != nil {
		return empty, nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, service, err)
	}

	registry := svc.Registry
	if registry == "" {
		registry = c.file.Registry
	}

	desc := domain.ServiceDescriptor{
		Service:         service,
		Environment:     environment,
		Kind:            domain.ServiceKind(svc.Kind),
		Version:         release.Version,
		PreviousVersion: release.PreviousVersion,
		Registry:        registry,
		Image:           svc.Image,
		UnitName:        svc.UnitName,
		UnitTemplate:    svc.UnitTemplate,
		TargetHosts:     targets,
		Config:          release.Config,
		ConfigFiles:     resolveConfigFiles(release.ConfigFiles),
		HealthCheck:     health,
	}

	if err := desc.Validate(); err != nil {
		return empty, nil, err
	}
	return desc, hosts, nil
}

func resolveConfigFiles(defs []configFileDef) []domain.ConfigFile {
	if len(defs) == 0 {
		return nil
	}
	files := make([]domain.ConfigFile, len(defs))
	for i, d := range defs {
		files[i] = domain.ConfigFile{Path: d.Path, Content: d.Content, Mode: d.Mode}
	}
	return files
}

func resolveHealth(def healthDef) (domain.HealthCheckSpec, error) {
	spec := domain.HealthCheckSpec{
		Endpoint: def.Endpoint,
		Port:     def.Port,
	}

	var err error
	if def.Interval != "" {
		if spec.Interval, err = time.ParseDuration(def.Interval); err != nil {
			return spec, fmt.Errorf("health interval: %w", err)
		}
	}
	if def.Timeout != "" {
		if spec.Timeout, err = time.ParseDuration(def.Timeout); err != nil {
			return spec, fmt.Errorf("health timeout: %w", err)
		}
	}
	return spec, nil
}
