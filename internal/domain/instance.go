package domain

import "time"

// Instance is a single tunneled workstation endpoint. Status is mutated
// only by the FSM (internal/fsm); every other component reads it or asks
// the FSM to transition it.
type Instance struct {
	ID              string    `json:"id"`
	Owner           string    `json:"owner"`
	Name            string    `json:"name"`
	LocalPort       int       `json:"local_port"`
	Region          Region    `json:"region,omitempty"`
	PreferredHost   string    `json:"preferred_host,omitempty"`
	AssignedRelay   string    `json:"assigned_relay,omitempty"`
	Status          Status    `json:"status"`
	StatusReason    string    `json:"status_reason"`
	TunnelConnected bool      `json:"tunnel_connected"`
	PublicURL       string    `json:"public_url,omitempty"`
	RemotePort      int       `json:"remote_port,omitempty"`
	CurrentToken    string    `json:"current_token,omitempty"`
	TokenExpiresAt  *time.Time `json:"token_expires_at,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// InstancePatch is a partial, merge-write update applied by the Store.
// Nil fields are left unchanged. Clearable fields (PublicURL etc.) have a
// paired Clear* flag so "clear this field" can be distinguished from
// "leave it alone".
type InstancePatch struct {
	Name            *string
	Status          *Status
	StatusReason    *string
	AssignedRelay   *string
	TunnelConnected *bool
	PublicURL       *string
	RemotePort      *int
	CurrentToken    *string
	TokenExpiresAt  *time.Time

	ClearAssignedRelay  bool
	ClearPublicURL      bool
	ClearRemotePort     bool
	ClearCurrentToken   bool
	ClearTokenExpiresAt bool
}

func strp(s string) *string         { return &s }
func boolp(b bool) *bool            { return &b }
func intp(i int) *int               { return &i }
func statusp(s Status) *Status      { return &s }
func timep(t time.Time) *time.Time  { return &t }

// ConnectedPatch builds the patch applied on starting → active: populate
// remote_port/public_url, mark connected. Enforces I2 by construction —
// it never sets PublicURL without RemotePort.
func ConnectedPatch(remotePort int, publicURL string) InstancePatch {
	return InstancePatch{
		Status:          statusp(StatusActive),
		StatusReason:    strp("relay reports tunnel connected"),
		TunnelConnected: boolp(true),
		RemotePort:      intp(remotePort),
		PublicURL:       strp(publicURL),
	}
}

// ConnectTimeoutPatch builds the patch applied on starting → error when a
// relay never calls back with tunnel-connected before the connect
// timeout elapses: the token it was issued is no longer valid, so it's
// cleared along with the relay assignment to leave the instance ready
// for a fresh Connect.
func ConnectTimeoutPatch(reason string) InstancePatch {
	return InstancePatch{
		Status:              statusp(StatusError),
		StatusReason:        strp(reason),
		TunnelConnected:     boolp(false),
		ClearAssignedRelay:  true,
		ClearCurrentToken:   true,
		ClearTokenExpiresAt: true,
	}
}

// DisconnectedPatch builds the patch applied on any terminal disconnect
// (relay callback or instance delete path): clears token/url/port fields
// together so I2/I3 can never observe a half-cleared instance.
func DisconnectedPatch(reason string) InstancePatch {
	return InstancePatch{
		Status:              statusp(StatusOffline),
		StatusReason:        strp(reason),
		TunnelConnected:     boolp(false),
		ClearPublicURL:      true,
		ClearRemotePort:     true,
		ClearCurrentToken:   true,
		ClearTokenExpiresAt: true,
	}
}
