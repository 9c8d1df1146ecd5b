package server

import (
	"context"
	goerrors "errors"
	"fmt"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/kvflood/kvflood/lib/klog"
	"github.com/kvflood/kvflood/lib/kvstore"
	"github.com/kvflood/kvflood/lib/wire"
	"github.com/kvflood/kvflood/rpc/common"
	"github.com/kvflood/kvflood/rpc/transport"
)

var Logger = klog.Get("rpc/server")

// NewRPCServer creates a new RPC server dispatching request-surface calls
// (§6) against registry, one Store per configured area.
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(),
//		wire.NewJSONCodec(),
//		registry,
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	codec wire.Codec,
	registry *kvstore.AreaRegistry,
) *rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("created RPC server")
	Logger.Infof(config.String())

	return &rpcServer{
		config:    config,
		transport: transport,
		codec:     codec,
		registry:  registry,
	}
}

type rpcServer struct {
	config    common.ServerConfig
	transport transport.IRPCServerTransport
	codec     wire.Codec
	registry  *kvstore.AreaRegistry
}

// Serve starts the transport layer. It blocks until the listener fails.
func (s *rpcServer) Serve() error {
	s.registerTransportHandler()
	return s.transport.Listen(s.config)
}

func (s *rpcServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(area string, requestID uint64, req []byte, push func([]byte) error) []byte {
		var msg wire.Message
		if err := s.codec.Decode(req, &msg); err != nil {
			return s.encode(wire.NewErrorMessage(fmt.Errorf("failed to decode request: %w", err)))
		}

		store, err := s.registry.Get(area)
		if err != nil {
			return s.encode(s.errorResponse(area, err))
		}

		return s.encode(s.handle(store, &msg, func(frame *wire.Message) error {
			return push(s.encode(frame))
		}))
	})
}

// errorResponse logs the stack trace behind a CodeInternal failure - the
// one piece of cockroachdb/errors' value NewError wraps but the wire
// response never carries - before building the client-visible error
// message.
func (s *rpcServer) errorResponse(area string, err error) *wire.Message {
	var kerr *kvstore.Error
	if goerrors.As(err, &kerr) && kerr.Code == kvstore.CodeInternal {
		Logger.Errorf("internal error handling area %s request: %+v", area, kerr.Cause())
	}
	return wire.NewErrorMessage(err)
}

func (s *rpcServer) encode(msg *wire.Message) []byte {
	val, err := s.codec.Encode(*msg)
	if err != nil {
		Logger.Errorf("failed to encode response: %v", err)
		return nil
	}
	return val
}

// handle dispatches one decoded request-surface call against store: one
// switch over the message type, one handler function per operation. push
// is only consumed by handleSubscribe, to deliver publication frames
// after the initial acknowledgement.
func (s *rpcServer) handle(store *kvstore.Store, req *wire.Message, push func(*wire.Message) error) *wire.Message {
	switch req.MsgType {
	case wire.MsgTSet:
		return s.handleSet(store, req)
	case wire.MsgTGet:
		return s.handleGet(store, req)
	case wire.MsgTDumpAll:
		return s.handleDumpAll(store, req)
	case wire.MsgTDumpHashes:
		return s.handleDumpHashes(store, req)
	case wire.MsgTGetPeers:
		return s.handleGetPeers(store, req)
	case wire.MsgTAddPeer:
		return s.handleAddPeer(store, req)
	case wire.MsgTDelPeer:
		return s.handleDelPeer(store, req)
	case wire.MsgTPublicationStream:
		return s.handlePublicationStream(store, req)
	case wire.MsgTSubscribe:
		return s.handleSubscribe(store, req, push)
	case wire.MsgTDualMessage:
		return s.handleDualMessage(store, req)
	case wire.MsgTUpdateFloodTopologyChild:
		return s.handleUpdateFloodTopologyChild(store, req)
	case wire.MsgTGetSptInfos:
		return s.handleGetSptInfos(store, req)
	case wire.MsgTGetStats:
		return s.handleGetStats(store, req)
	default:
		return wire.NewErrorMessage(fmt.Errorf("unsupported message type: %s", req.MsgType))
	}
}

func (s *rpcServer) handleSet(store *kvstore.Store, req *wire.Message) *wire.Message {
	if req.Publication == nil {
		return wire.NewErrorMessage(kvstore.NewError(kvstore.CodeInvalidRequest, "set requires a publication"))
	}
	store.Set(req.Publication.KeyVals)
	return &wire.Message{MsgType: wire.MsgTSuccess, Area: req.Area, Ok: true}
}

func (s *rpcServer) handleGet(store *kvstore.Store, req *wire.Message) *wire.Message {
	vals := store.Get(req.Keys)
	return &wire.Message{
		MsgType:     wire.MsgTSuccess,
		Area:        req.Area,
		Publication: &kvstore.Publication{AreaID: req.Area, KeyVals: vals},
	}
}

func (s *rpcServer) handleDumpAll(store *kvstore.Store, req *wire.Message) *wire.Message {
	filter, suppressPayload, err := resolveDumpParams(req.Params)
	if err != nil {
		return s.errorResponse(req.Area, err)
	}
	vals := store.DumpAll(filter, suppressPayload)
	return &wire.Message{
		MsgType:     wire.MsgTSuccess,
		Area:        req.Area,
		Publication: &kvstore.Publication{AreaID: req.Area, KeyVals: vals},
	}
}

func (s *rpcServer) handleDumpHashes(store *kvstore.Store, req *wire.Message) *wire.Message {
	filter, _, err := resolveDumpParams(req.Params)
	if err != nil {
		return s.errorResponse(req.Area, err)
	}
	vals := store.DumpHashes(filter)
	return &wire.Message{
		MsgType:     wire.MsgTSuccess,
		Area:        req.Area,
		Publication: &kvstore.Publication{AreaID: req.Area, KeyVals: vals},
	}
}

func (s *rpcServer) handleGetPeers(store *kvstore.Store, req *wire.Message) *wire.Message {
	return &wire.Message{MsgType: wire.MsgTSuccess, Area: req.Area, Peers: store.GetPeers()}
}

func (s *rpcServer) handleAddPeer(store *kvstore.Store, req *wire.Message) *wire.Message {
	if req.PeerName == "" || req.PeerEndpoint == "" {
		return wire.NewErrorMessage(kvstore.NewError(kvstore.CodeInvalidRequest, "add_peer requires a peer name and endpoint"))
	}
	store.AddPeer(req.PeerName, req.PeerEndpoint, req.PeerTLSIdentity)
	return &wire.Message{MsgType: wire.MsgTSuccess, Area: req.Area, Ok: true}
}

func (s *rpcServer) handleDelPeer(store *kvstore.Store, req *wire.Message) *wire.Message {
	removed := store.DelPeer(req.PeerName)
	return &wire.Message{MsgType: wire.MsgTSuccess, Area: req.Area, Ok: removed}
}

// handlePublicationStream applies an inbound publication from req.PeerName
// (a flood delta or a full-sync push), following §4.2's split-horizon rule:
// the sending peer is excluded from re-flood on this hop.
func (s *rpcServer) handlePublicationStream(store *kvstore.Store, req *wire.Message) *wire.Message {
	if req.Publication == nil {
		return wire.NewErrorMessage(kvstore.NewError(kvstore.CodeInvalidRequest, "publication stream requires a publication"))
	}
	store.MergeFromPeer(req.PeerName, *req.Publication)
	return &wire.Message{MsgType: wire.MsgTSuccess, Area: req.Area, Ok: true}
}

// handleSubscribe implements §6 `subscribe_and_get_area_kv_stores`: it
// replies once with the initial matching snapshot, then spawns a
// goroutine that pushes one publication frame per delivered delta over
// the same connection until push fails (the connection went away) or the
// subscriber is torn down, at which point it unsubscribes.
func (s *rpcServer) handleSubscribe(store *kvstore.Store, req *wire.Message, push func(*wire.Message) error) *wire.Message {
	filter, suppressPayload, err := resolveDumpParams(req.Params)
	if err != nil {
		return s.errorResponse(req.Area, err)
	}
	if req.SuppressPayload {
		suppressPayload = true
	}

	snapshot, sub := store.Subscribe(filter, suppressPayload, req.IgnoreTTLOnly)

	go func() {
		ctx := context.Background()
		for {
			pub, ok := sub.Next(ctx)
			if !ok {
				return
			}
			frame := &wire.Message{
				MsgType:     wire.MsgTPublicationStream,
				Area:        req.Area,
				Publication: &pub,
			}
			if err := push(frame); err != nil {
				Logger.Debugf("subscriber %s: push failed, unsubscribing: %v", sub.ID, err)
				store.Unsubscribe(sub.ID)
				return
			}
		}
	}()

	return &wire.Message{
		MsgType:     wire.MsgTSuccess,
		Area:        req.Area,
		Publication: &kvstore.Publication{AreaID: req.Area, KeyVals: snapshot},
	}
}

// handleDualMessage implements §6 `process_kv_store_dual_message`.
func (s *rpcServer) handleDualMessage(store *kvstore.Store, req *wire.Message) *wire.Message {
	if req.PeerName == "" || req.DualRoot == "" {
		return wire.NewErrorMessage(kvstore.NewError(kvstore.CodeInvalidRequest, "dual message requires a peer name and root"))
	}
	if err := store.ProcessDualMessage(req.PeerName, req.DualRoot, req.DualDistance); err != nil {
		return s.errorResponse(req.Area, err)
	}
	return &wire.Message{MsgType: wire.MsgTSuccess, Area: req.Area, Ok: true}
}

// handleUpdateFloodTopologyChild implements §6 `update_flood_topology_child`.
func (s *rpcServer) handleUpdateFloodTopologyChild(store *kvstore.Store, req *wire.Message) *wire.Message {
	if req.PeerName == "" || req.DualRoot == "" {
		return wire.NewErrorMessage(kvstore.NewError(kvstore.CodeInvalidRequest, "update_flood_topology_child requires a peer name and root"))
	}
	if err := store.UpdateFloodTopologyChild(req.DualRoot, req.PeerName, req.ChildAdd); err != nil {
		return s.errorResponse(req.Area, err)
	}
	return &wire.Message{MsgType: wire.MsgTSuccess, Area: req.Area, Ok: true}
}

// handleGetSptInfos implements §6 `get_spanning_tree_infos`.
func (s *rpcServer) handleGetSptInfos(store *kvstore.Store, req *wire.Message) *wire.Message {
	infos, err := store.GetSptInfos()
	if err != nil {
		return s.errorResponse(req.Area, err)
	}
	return &wire.Message{MsgType: wire.MsgTSuccess, Area: req.Area, SptInfos: infos}
}

// handleGetStats implements §6 `get_merge_latency_stats`.
func (s *rpcServer) handleGetStats(store *kvstore.Store, req *wire.Message) *wire.Message {
	stats := store.GetStats()
	return &wire.Message{MsgType: wire.MsgTSuccess, Area: req.Area, Stats: &stats}
}

// resolveDumpParams turns an optional KeyDumpParams into a Filter and the
// suppress-payload flag, defaulting to match-all/full-payload when absent.
func resolveDumpParams(params *wire.KeyDumpParams) (kvstore.Filter, bool, error) {
	if params == nil {
		return kvstore.MatchAllFilter, false, nil
	}
	filter, err := params.ResolveFilter()
	if err != nil {
		return kvstore.Filter{}, false, kvstore.NewError(kvstore.CodeInvalidRequest, "invalid filter: %v", err)
	}
	return filter, params.DoNotPublishValue, nil
}
