// Package domain contains the core domain types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"net"
	"time"
)

// =============================================================================
// Host Errors
// =============================================================================

var (
	ErrHostIDRequired  = errors.New("host id is required")
	ErrHostAddrInvalid = errors.New("host address must be a valid hostname or IP address")
	ErrHostPortInvalid = errors.New("host SSH port must be between 1 and 65535")
	ErrHostUserEmpty   = errors.New("host SSH user is required")
)

// =============================================================================
// Host Identity
// =============================================================================

// HostID is an opaque identifier for a deployment target.
// Equality is by identity: two HostIDs refer to the same host iff equal.
type HostID string

// =============================================================================
// Host
// =============================================================================

// Host describes a deployment target: its identity plus the connection
// details an executor needs to reach it. The engine itself only ever sees
// the HostID; connection details are consumed by executor implementations.
type Host struct {
	ID      HostID            `json:"id"`
	Address string            `json:"address"`
	SSHUser string            `json:"ssh_user"`
	SSHPort int               `json:"ssh_port"`
	KeyRef  string            `json:"key_ref,omitempty"` // Reference to the SSH private key (path or secret name)
	Labels  map[string]string `json:"labels,omitempty"`
}

// Validate checks that the host has usable identity and connection details.
func (h Host) Validate() error {
	if h.ID == "" {
		return ErrHostIDRequired
	}
	if h.Address == "" || !isValidHostAddress(h.Address) {
		return ErrHostAddrInvalid
	}
	if h.SSHPort < 1 || h.SSHPort > 65535 {
		return ErrHostPortInvalid
	}
	if h.SSHUser == "" {
		return ErrHostUserEmpty
	}
	return nil
}

// isValidHostAddress accepts IP addresses and plausible DNS hostnames.
func isValidHostAddress(addr string) bool {
	if net.ParseIP(addr) != nil {
		return true
	}
	if len(addr) > 253 {
		return false
	}
	for _, r := range addr {
		if !(r == '.' || r == '-' ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// =============================================================================
// Error Record
// =============================================================================

// ErrorRecord captures one failure observed while driving a host through
// a deployment. Records are append-only and ordered by occurrence.
type ErrorRecord struct {
	State     HostState `json:"state"`     // State whose transition failed
	Attempt   int       `json:"attempt"`   // 1-based attempt number within that transition
	Message   string    `json:"message"`
	Transient bool      `json:"transient"` // Whether the failure was retried
	At        time.Time `json:"at"`
}
