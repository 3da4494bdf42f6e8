package signaling

import "time"

// ChannelType mirrors spec.md §6 ChannelInfo.type.
type ChannelType string

const ChannelTypeSingleMaster ChannelType = "single-master"

// Role mirrors spec.md §6 ChannelInfo.role.
type Role string

const (
	RoleMaster Role = "master"
	RoleViewer Role = "viewer"
)

// CachingPolicy controls which control-plane calls spec.md §4.9's
// "Caching" clause allows skipping within CachingPeriod.
type CachingPolicy int

const (
	CachingPolicyNone CachingPolicy = iota
	CachingPolicyDescribeEndpoint
	CachingPolicyFile
)

// ChannelInfo is spec.md §3's "channel info (name, ARN, region, role,
// cert path, TTL)" plus the fields §6's ChannelInfo enumerates.
type ChannelInfo struct {
	Name            string
	ARN             string
	Type            ChannelType
	Role            Role
	Region          string
	ControlPlaneURL string
	CertPath        string
	UserAgent       string
	Reconnect       bool
	CachingPolicy   CachingPolicy
	CachingPeriod   time.Duration
	Tags            map[string]string
	RetryCount      int
	MessageTTL      time.Duration
}

func (c *ChannelInfo) defaults() {
	if c.RetryCount <= 0 {
		c.RetryCount = defaultMaxRetries
	}
	if c.CachingPeriod <= 0 {
		c.CachingPeriod = 5 * time.Minute
	}
	if c.MessageTTL <= 0 {
		c.MessageTTL = 60 * time.Second
	}
	if c.Type == "" {
		c.Type = ChannelTypeSingleMaster
	}
}

// ICETransportPolicy mirrors spec.md §6 RtcConfiguration.iceTransportPolicy.
type ICETransportPolicy string

const (
	ICETransportPolicyAll   ICETransportPolicy = "all"
	ICETransportPolicyRelay ICETransportPolicy = "relay"
)

// IceServer is one entry of RtcConfiguration.iceServers, populated
// from the get-ice-server-config response's IceServerList[].
type IceServer struct {
	URIs     []string
	Username string
	Password string
	TTL      time.Duration
}

// ChannelDescription is the signaling client's cached view of the
// channel's control-plane identity and endpoints, per spec.md §3
// "channel description (ARN, endpoints for WSS/HTTPS, update-version,
// status)".
type ChannelDescription struct {
	ARN            string
	Status         string
	UpdateVersion  string
	HTTPSEndpoint  string
	WSSEndpoint    string
	CreatedAt      time.Time
}

// iceConfigEntry pairs an ice-config response with its expiry, per
// spec.md §3 "an array of up to N ice-config blocks with TTL and expiry".
type iceConfigEntry struct {
	servers []IceServer
	expiry  time.Time
}
