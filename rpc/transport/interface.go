package transport

import (
	"github.com/kvflood/kvflood/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc handles one incoming request-surface Message for a
// given area and returns the encoded response. push writes an additional
// frame under the same requestID after the handler has already returned
// its response, the mechanism a streaming subscription (§6
// subscribe_and_get_area_kv_stores) uses to deliver publications
// asynchronously over the connection that carried the original request.
type ServerHandleFunc func(area string, requestID uint64, req []byte, push func(frame []byte) error) (resp []byte)

// IRPCServerTransport is the interface for the request-surface transport
// layer. It must accept a ServerConfig as a parameter.
type IRPCServerTransport interface {
	// RegisterHandler registers the handler called for every request the
	// transport layer receives.
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and blocks accepting connections.
	Listen(config common.ServerConfig) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// StreamHandler receives every frame the server pushes on a stream opened
// via OpenStream, after the initial synchronous response.
type StreamHandler func(frame []byte)

// IRPCClientTransport is the interface for the request-surface RPC client.
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration.
	Connect(config common.ClientConfig) error
	// Send sends an encoded request for the given area and returns the
	// encoded response.
	Send(area string, req []byte) (resp []byte, err error)
	// OpenStream sends req like Send, but keeps the request id alive after
	// the first response so the server can push further frames to
	// onFrame. Returns the request id, needed to later call CloseStream.
	OpenStream(area string, req []byte, onFrame StreamHandler) (requestID uint64, err error)
	// CloseStream stops dispatching further frames for a request id opened
	// via OpenStream.
	CloseStream(requestID uint64)
	// Close closes the transport connection.
	Close() error
}
