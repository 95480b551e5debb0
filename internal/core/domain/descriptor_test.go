package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func containerDescriptor() ServiceDescriptor {
	return ServiceDescriptor{
		Service:     "api",
		Environment: "qa",
		Kind:        KindContainer,
		Version:     "1.4.2",
		Registry:    "registry.example.com",
		Image:       "example/api",
		TargetHosts: []HostID{"h1", "h2"},
	}
}

func systemDescriptor() ServiceDescriptor {
	return ServiceDescriptor{
		Service:      "agent",
		Environment:  "prod",
		Kind:         KindSystemProcess,
		Version:      "2.0.0",
		UnitName:     "agent.service",
		UnitTemplate: "[Unit]\nDescription=agent\n[Service]\nExecStart=/usr/bin/agent\n",
		TargetHosts:  []HostID{"h1"},
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestDescriptorValidate_ValidContainer(t *testing.T) {
	assert.NoError(t, containerDescriptor().Validate())
}

func TestDescriptorValidate_ValidSystemProcess(t *testing.T) {
	assert.NoError(t, systemDescriptor().Validate())
}

func TestDescriptorValidate_EmptyTargetHosts(t *testing.T) {
	d := containerDescriptor()
	d.TargetHosts = nil

	err := d.Validate()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
	assert.ErrorIs(t, err, ErrNoTargetHosts)
}

func TestDescriptorValidate_DuplicateHost(t *testing.T) {
	d := containerDescriptor()
	d.TargetHosts = []HostID{"h1", "h2", "h1"}

	err := d.Validate()

	assert.ErrorIs(t, err, ErrInvalidDescriptor)
	assert.ErrorIs(t, err, ErrDuplicateHost)
}

func TestDescriptorValidate_ContainerRequiresImageAndRegistry(t *testing.T) {
	noImage := containerDescriptor()
	noImage.Image = ""
	assert.ErrorIs(t, noImage.Validate(), ErrImageRequired)

	noRegistry := containerDescriptor()
	noRegistry.Registry = ""
	assert.ErrorIs(t, noRegistry.Validate(), ErrRegistryRequired)
}

func TestDescriptorValidate_SystemProcessRequiresUnitTemplate(t *testing.T) {
	d := systemDescriptor()
	d.UnitTemplate = ""

	assert.ErrorIs(t, d.Validate(), ErrUnitTemplateEmpty)
}

func TestDescriptorValidate_MissingVersion(t *testing.T) {
	d := containerDescriptor()
	d.Version = ""

	assert.ErrorIs(t, d.Validate(), ErrInvalidDescriptor)
}

func TestDescriptorValidate_UnknownKind(t *testing.T) {
	d := containerDescriptor()
	d.Kind = ServiceKind("vm")

	assert.ErrorIs(t, d.Validate(), ErrUnknownKind)
}

// =============================================================================
// Image Reference Tests
// =============================================================================

func TestImageRef(t *testing.T) {
	d := containerDescriptor()

	assert.Equal(t, "registry.example.com/example/api:1.4.2", d.ImageRef())
}

func TestPreviousImageRef(t *testing.T) {
	d := containerDescriptor()
	d.PreviousVersion = "1.4.1"

	assert.Equal(t, "registry.example.com/example/api:1.4.1", d.PreviousImageRef())
}

func TestCanRollBack(t *testing.T) {
	d := containerDescriptor()
	assert.False(t, d.CanRollBack())

	d.PreviousVersion = "1.4.1"
	assert.True(t, d.CanRollBack())
}

// =============================================================================
// Host Validation Tests
// =============================================================================

func TestHostValidate(t *testing.T) {
	valid := Host{ID: "h1", Address: "10.0.0.1", SSHUser: "deploy", SSHPort: 22}
	assert.NoError(t, valid.Validate())

	cases := []struct {
		name    string
		mutate  func(*Host)
		wantErr error
	}{
		{"missing id", func(h *Host) { h.ID = "" }, ErrHostIDRequired},
		{"empty address", func(h *Host) { h.Address = "" }, ErrHostAddrInvalid},
		{"address with spaces", func(h *Host) { h.Address = "not a host" }, ErrHostAddrInvalid},
		{"port zero", func(h *Host) { h.SSHPort = 0 }, ErrHostPortInvalid},
		{"port too large", func(h *Host) { h.SSHPort = 70000 }, ErrHostPortInvalid},
		{"missing user", func(h *Host) { h.SSHUser = "" }, ErrHostUserEmpty},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := valid
			tc.mutate(&h)
			assert.ErrorIs(t, h.Validate(), tc.wantErr)
		})
	}
}

func TestHostValidate_HostnameAddress(t *testing.T) {
	h := Host{ID: "h1", Address: "web-01.prod.example.com", SSHUser: "deploy", SSHPort: 22}
	assert.NoError(t, h.Validate())
}
