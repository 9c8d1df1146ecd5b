package client

import (
	"fmt"

	"github.com/kvflood/kvflood/lib/kvstore"
	"github.com/kvflood/kvflood/lib/wire"
	"github.com/kvflood/kvflood/rpc/common"
	"github.com/kvflood/kvflood/rpc/transport"
)

// --------------------------------------------------------------------------
// PeerClient - kvstore.PeerSender over the request-surface transport
// --------------------------------------------------------------------------

// PeerClient implements kvstore.PeerSender by addressing peers directly:
// each peer name is dialed lazily against the endpoint registered for it
// via RegisterPeer (called by Store.AddPeer, see lib/kvstore's optional
// peerDirectory capability), rather than round-robining across a fixed
// endpoint pool the way the request-surface RequestClient does.
type PeerClient struct {
	areaID       string
	localNodeID  string
	codec        wire.Codec
	clientConfig common.ClientConfig
	connFactory  func() transport.IRPCClientTransport
	dial         *endpointDial
}

// NewPeerClient builds a PeerClient for one area. connFactory produces a
// fresh transport instance per dialed peer (e.g. tcp.NewTCPClientTransport).
// localNodeID is stamped on outgoing publications so the receiving Store
// knows which peer to exclude from re-flood (split-horizon).
func NewPeerClient(areaID, localNodeID string, connFactory func() transport.IRPCClientTransport, codec wire.Codec, cfg common.ClientConfig) *PeerClient {
	return &PeerClient{
		areaID:       areaID,
		localNodeID:  localNodeID,
		codec:        codec,
		clientConfig: cfg,
		connFactory:  connFactory,
		dial:         newEndpointDial(),
	}
}

// RegisterPeer and UnregisterPeer satisfy kvstore's optional peerDirectory
// capability, called from Store.AddPeer/DelPeer.
func (c *PeerClient) RegisterPeer(name, endpoint string) {
	c.dial.register(name, endpoint)
}

func (c *PeerClient) UnregisterPeer(name string) {
	c.dial.unregister(name)
}

func (c *PeerClient) connFor(peerName string) (transport.IRPCClientTransport, error) {
	c.dial.mu.Lock()
	defer c.dial.mu.Unlock()

	if conn, ok := c.dial.conns[peerName]; ok {
		return conn, nil
	}

	endpoint, ok := c.dial.endpoints[peerName]
	if !ok {
		return nil, fmt.Errorf("no known endpoint for peer %q", peerName)
	}

	conn := c.connFactory()
	cfg := c.clientConfig
	cfg.Endpoints = []string{endpoint}
	cfg.ConnectionsPerEndpoint = 1
	if err := conn.Connect(cfg); err != nil {
		return nil, fmt.Errorf("dial peer %q at %s: %w", peerName, endpoint, err)
	}

	c.dial.conns[peerName] = conn
	return conn, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see kvstore.PeerSender)
// --------------------------------------------------------------------------

func (c *PeerClient) SendPublication(peerName string, pub kvstore.Publication) error {
	conn, err := c.connFor(peerName)
	if err != nil {
		return err
	}
	pub.AreaID = c.areaID
	req := &wire.Message{MsgType: wire.MsgTPublicationStream, Area: c.areaID, PeerName: c.localNodeID, Publication: &pub}
	_, err = invokeRPCRequest(c.areaID, req, conn, c.codec)
	return err
}

// RequestHashDump requests the peer's hash-only snapshot. filter is
// currently always MatchAllFilter in this system's call sites (Flooder's
// full-sync path); a Filter carries compiled regexes rather than the raw
// patterns KeyDumpParams needs, so this only forwards a match-all request.
func (c *PeerClient) RequestHashDump(peerName string, filter kvstore.Filter) (map[string]kvstore.Value, error) {
	conn, err := c.connFor(peerName)
	if err != nil {
		return nil, err
	}
	req := &wire.Message{MsgType: wire.MsgTDumpHashes, Area: c.areaID}
	resp, err := invokeRPCRequest(c.areaID, req, conn, c.codec)
	if err != nil {
		return nil, err
	}
	if resp.Publication == nil {
		return map[string]kvstore.Value{}, nil
	}
	return resp.Publication.KeyVals, nil
}

// RequestValues requests full values for keys from the peer.
func (c *PeerClient) RequestValues(peerName string, keys []string) (map[string]kvstore.Value, error) {
	conn, err := c.connFor(peerName)
	if err != nil {
		return nil, err
	}
	req := &wire.Message{MsgType: wire.MsgTGet, Area: c.areaID, Keys: keys}
	resp, err := invokeRPCRequest(c.areaID, req, conn, c.codec)
	if err != nil {
		return nil, err
	}
	if resp.Publication == nil {
		return map[string]kvstore.Value{}, nil
	}
	return resp.Publication.KeyVals, nil
}

// --------------------------------------------------------------------------
// RequestClient - request-surface client for CLI / external callers
// --------------------------------------------------------------------------

// RequestClient issues request-surface calls (§6) against one or more
// server endpoints, round-robining across a fixed pool the way dKV's
// rpcStore addressed a fixed shard set.
type RequestClient struct {
	config    common.ClientConfig
	transport transport.IRPCClientTransport
	codec     wire.Codec
}

// NewRequestClient connects transport using config and wraps it with codec.
func NewRequestClient(config common.ClientConfig, transport transport.IRPCClientTransport, codec wire.Codec) (*RequestClient, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}
	return &RequestClient{config: config, transport: transport, codec: codec}, nil
}

func (c *RequestClient) invoke(area string, req *wire.Message) (*wire.Message, error) {
	return invokeRPCRequest(area, req, c.transport, c.codec)
}

// Set implements §4.5 `set_kv_store_key_vals`.
func (c *RequestClient) Set(area string, keyVals map[string]kvstore.Value) error {
	req := &wire.Message{MsgType: wire.MsgTSet, Area: area, Publication: &kvstore.Publication{AreaID: area, KeyVals: keyVals}}
	_, err := c.invoke(area, req)
	return err
}

// Get implements §4.5 `get_kv_store_key_vals_area`.
func (c *RequestClient) Get(area string, keys []string) (map[string]kvstore.Value, error) {
	req := &wire.Message{MsgType: wire.MsgTGet, Area: area, Keys: keys}
	resp, err := c.invoke(area, req)
	if err != nil {
		return nil, err
	}
	if resp.Publication == nil {
		return map[string]kvstore.Value{}, nil
	}
	return resp.Publication.KeyVals, nil
}

// DumpAll implements §4.5 `get_kv_store_key_vals_filtered_area`.
func (c *RequestClient) DumpAll(area string, params wire.KeyDumpParams) (map[string]kvstore.Value, error) {
	req := &wire.Message{MsgType: wire.MsgTDumpAll, Area: area, Params: &params}
	resp, err := c.invoke(area, req)
	if err != nil {
		return nil, err
	}
	if resp.Publication == nil {
		return map[string]kvstore.Value{}, nil
	}
	return resp.Publication.KeyVals, nil
}

// DumpHashes implements §4.5 `get_kv_store_hash_filtered_area`.
func (c *RequestClient) DumpHashes(area string, params wire.KeyDumpParams) (map[string]kvstore.Value, error) {
	req := &wire.Message{MsgType: wire.MsgTDumpHashes, Area: area, Params: &params}
	resp, err := c.invoke(area, req)
	if err != nil {
		return nil, err
	}
	if resp.Publication == nil {
		return map[string]kvstore.Value{}, nil
	}
	return resp.Publication.KeyVals, nil
}

// GetPeers implements §4.5 `get_kv_store_peers_area`.
func (c *RequestClient) GetPeers(area string) (map[string]kvstore.Peer, error) {
	req := &wire.Message{MsgType: wire.MsgTGetPeers, Area: area}
	resp, err := c.invoke(area, req)
	if err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// AddPeer implements §4.5 `add_peer`.
func (c *RequestClient) AddPeer(area, peerName, endpoint, tlsIdentity string) error {
	req := &wire.Message{MsgType: wire.MsgTAddPeer, Area: area, PeerName: peerName, PeerEndpoint: endpoint, PeerTLSIdentity: tlsIdentity}
	_, err := c.invoke(area, req)
	return err
}

// DelPeer implements §4.5 `del_peer`.
func (c *RequestClient) DelPeer(area, peerName string) error {
	req := &wire.Message{MsgType: wire.MsgTDelPeer, Area: area, PeerName: peerName}
	_, err := c.invoke(area, req)
	return err
}

// GetStats implements §6 `get_merge_latency_stats`.
func (c *RequestClient) GetStats(area string) (kvstore.StatsSnapshot, error) {
	req := &wire.Message{MsgType: wire.MsgTGetStats, Area: area}
	resp, err := c.invoke(area, req)
	if err != nil {
		return kvstore.StatsSnapshot{}, err
	}
	if resp.Stats == nil {
		return kvstore.StatsSnapshot{}, nil
	}
	return *resp.Stats, nil
}

// Subscribe implements §6 `subscribe_and_get_area_kv_stores`: it opens a
// stream, returns the initial matching snapshot, and delivers every
// subsequent publication to onPublication until the returned cancel func
// is called or the connection is lost.
func (c *RequestClient) Subscribe(area string, params wire.KeyDumpParams, suppressPayload, ignoreTTLOnly bool, onPublication func(kvstore.Publication)) (map[string]kvstore.Value, func(), error) {
	req := &wire.Message{
		MsgType:         wire.MsgTSubscribe,
		Area:            area,
		Params:          &params,
		SuppressPayload: suppressPayload,
		IgnoreTTLOnly:   ignoreTTLOnly,
	}
	reqBytes, err := c.codec.Encode(*req)
	if err != nil {
		return nil, nil, err
	}

	var snapshot map[string]kvstore.Value
	requestID, err := c.transport.OpenStream(area, reqBytes, func(frame []byte) {
		var msg wire.Message
		if err := c.codec.Decode(frame, &msg); err != nil {
			Logger.Errorf("subscribe: failed to decode frame: %v", err)
			return
		}
		if msg.MsgType == wire.MsgTSuccess {
			if msg.Publication != nil {
				snapshot = msg.Publication.KeyVals
			}
			return
		}
		if msg.MsgType == wire.MsgTPublicationStream && msg.Publication != nil {
			onPublication(*msg.Publication)
		}
	})
	if err != nil {
		return nil, nil, err
	}

	cancel := func() { c.transport.CloseStream(requestID) }
	return snapshot, cancel, nil
}

// Close closes the underlying transport.
func (c *RequestClient) Close() error {
	return c.transport.Close()
}
