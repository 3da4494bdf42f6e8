package ice

import (
	"net"
	"time"
)

// PairEstablishmentPolicy mirrors kvsRtcConfiguration.iceCandidatePairEstablishmentPolicy.
type PairEstablishmentPolicy int

// Policies.
const (
	PolicyAll PairEstablishmentPolicy = iota
	PolicyNearestFirst
)

// ServerConfig is one entry of the per-ICE-server configuration spec.md
// §4.4 requires: `{url, username, credential, transport}`.
type ServerConfig struct {
	URL        string
	Username   string
	Credential string
	Transport  Transport
}

// InterfaceFilter blacklists interfaces during host-candidate gathering.
type InterfaceFilter func(iface net.Interface) (skip bool)

// Config carries every knob spec.md §4.4 "Configuration" enumerates.
type Config struct {
	Servers []ServerConfig

	LocalCandidateGatheringTimeout time.Duration
	ConnectionCheckTimeout         time.Duration
	CandidateNominationTimeout     time.Duration
	PairEstablishmentPolicy        PairEstablishmentPolicy
	InterfaceFilter                InterfaceFilter

	// Controlling selects this agent's initial ICE role.
	Controlling bool
}

// defaults fills zero-valued durations/timeouts with the spec's
// suggested figures (§4.4 state table: "default 5 s with configurable grace").
func (c *Config) defaults() {
	if c.LocalCandidateGatheringTimeout == 0 {
		c.LocalCandidateGatheringTimeout = 10 * time.Second
	}
	if c.ConnectionCheckTimeout == 0 {
		c.ConnectionCheckTimeout = 5 * time.Second
	}
	if c.CandidateNominationTimeout == 0 {
		c.CandidateNominationTimeout = 5 * time.Second
	}
}
