package client

import (
	"fmt"
	"sync"

	"github.com/kvflood/kvflood/lib/klog"
	"github.com/kvflood/kvflood/lib/wire"
	"github.com/kvflood/kvflood/rpc/transport"
)

var Logger = klog.Get("rpc/client")

// invokeRPCRequest encodes req with codec, sends it for area over
// transport, decodes the response and checks it for a carried error or an
// unexpected message type.
func invokeRPCRequest(area string, req *wire.Message, transport transport.IRPCClientTransport, codec wire.Codec) (*wire.Message, error) {
	reqBytes, err := codec.Encode(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := transport.Send(area, reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &wire.Message{}
	if err := codec.Decode(respBytes, resp); err != nil {
		return nil, fmt.Errorf("rpc client: %s", err)
	}

	if resp.MsgType == wire.MsgTError || resp.Err != "" {
		return nil, fmt.Errorf("rpc client: %s", resp.Err)
	}

	return resp, nil
}

// endpointDial tracks a single lazily-established transport per peer name,
// used by PeerClient to address the specific peer a flood/sync operation
// targets rather than a round-robin pool.
type endpointDial struct {
	mu        sync.Mutex
	endpoints map[string]string
	conns     map[string]transport.IRPCClientTransport
}

func newEndpointDial() *endpointDial {
	return &endpointDial{
		endpoints: make(map[string]string),
		conns:     make(map[string]transport.IRPCClientTransport),
	}
}

func (d *endpointDial) register(name, endpoint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints[name] = endpoint
}

func (d *endpointDial) unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.endpoints, name)
	if conn, ok := d.conns[name]; ok {
		conn.Close()
		delete(d.conns, name)
	}
}
