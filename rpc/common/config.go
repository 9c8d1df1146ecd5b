package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Area / peer configuration
// --------------------------------------------------------------------------

// PeerSpec is one statically configured flooding neighbor to dial at
// startup, in addition to whatever peers gossip discovery or add_peer
// calls add later (§3 Peer).
type PeerSpec struct {
	Name        string
	Endpoint    string
	TLSIdentity string
}

// AreaSpec configures one area's Store (§2).
type AreaSpec struct {
	AreaID          string
	UseSpanningTree bool
	Peers           []PeerSpec
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// TransportConfig configures the listener/dialer shared by every area's
// peer connections and by the request-surface RPC server.
type TransportConfig struct {
	Endpoint          string
	TCPNoDelay        bool
	TimeoutSecond     int
	WriteBufferSize   int
	ReadBufferSize    int
	TCPKeepAliveSec   int
	TCPLingerSec      int
	MaxWorkersPerConn int
}

// MembershipConfig configures the gossip liveness layer (§4.2 permanent
// failure detection).
type MembershipConfig struct {
	BindAddr string
	BindPort int
	Seeds    []string
}

// ServerConfig holds all configuration for one daemon process: which
// areas it participates in, how peers are reached, which wire codec is
// used, and the ambient logging/metrics settings.
type ServerConfig struct {
	LocalNodeID string
	Areas       []AreaSpec

	Transport  TransportConfig
	Membership MembershipConfig

	// Serializer selects the wire.Codec: "json", "gob" or "binary".
	Serializer string

	MetricsNamespace string
	MetricsAddr      string
	LogLevel         string
}

// AreaIDs returns the configured area ids in declaration order.
func (c *ServerConfig) AreaIDs() []string {
	ids := make([]string, 0, len(c.Areas))
	for _, a := range c.Areas {
		ids = append(ids, a.AreaID)
	}
	return ids
}

// String returns a formatted representation of the configuration,
// following the addSection/addField layout dKV's ServerConfig.String
// uses.
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Node Identity")
	addField("Local Node ID", c.LocalNodeID)

	addSection("Transport")
	addField("Endpoint", c.Transport.Endpoint)
	addField("TCP No Delay", fmt.Sprintf("%t", c.Transport.TCPNoDelay))
	addField("Timeout", fmt.Sprintf("%d sec", c.Transport.TimeoutSecond))

	addSection("Membership")
	addField("Bind Addr", fmt.Sprintf("%s:%d", c.Membership.BindAddr, c.Membership.BindPort))
	addField("Seeds", strings.Join(c.Membership.Seeds, ", "))

	addSection("Wire Codec")
	addField("Serializer", c.Serializer)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Metrics")
	addField("Namespace", c.MetricsNamespace)
	if c.MetricsAddr != "" {
		addField("Scrape Addr", c.MetricsAddr)
	} else {
		addField("Scrape Addr", "disabled")
	}

	addSection("Areas")
	for _, area := range c.Areas {
		addField(area.AreaID, fmt.Sprintf("spanning-tree=%t peers=%d", area.UseSpanningTree, len(area.Peers)))
		for _, p := range area.Peers {
			sb.WriteString(fmt.Sprintf("    - %s @ %s\n", p.Name, p.Endpoint))
		}
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures a request-surface client (§6).
type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
	Serializer             string
}

// String returns a formatted representation of the client configuration.
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.ConnectionsPerEndpoint)))
	addField("Serializer", c.Serializer)

	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
