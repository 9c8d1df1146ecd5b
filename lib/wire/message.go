package wire

import (
	"encoding/json"
	"fmt"

	"github.com/kvflood/kvflood/lib/kvstore"
)

// MessageType enumerates the request-surface operations named in §6,
// following the shape of dKV's common.MessageType (a small uint8 enum
// with a String()/JSON marshaling pair) but naming this system's own
// operation set instead of IStore's.
type MessageType uint8

const (
	MsgTUnknown MessageType = iota
	MsgTSuccess
	MsgTError

	MsgTSet                       // set_kv_store_key_vals
	MsgTGet                       // get_kv_store_key_vals_area
	MsgTDumpAll                   // get_kv_store_key_vals_filtered_area
	MsgTDumpHashes                // get_kv_store_hash_filtered_area
	MsgTDumpDifference            // internal to full-sync (§4.2)
	MsgTGetPeers                  // get_kv_store_peers_area
	MsgTAddPeer                   // add_peer
	MsgTDelPeer                   // del_peer
	MsgTDualMessage               // process_kv_store_dual_message
	MsgTUpdateFloodTopologyChild  // update_flood_topology_child
	MsgTGetSptInfos               // get_spanning_tree_infos
	MsgTSubscribe                 // subscribe_and_get_area_kv_stores
	MsgTPublicationStream         // one frame of an active subscription stream
	MsgTGetStats                  // get_merge_latency_stats
)

func (t MessageType) String() string {
	switch t {
	case MsgTSuccess:
		return "success"
	case MsgTError:
		return "error"
	case MsgTSet:
		return "set"
	case MsgTGet:
		return "get"
	case MsgTDumpAll:
		return "dumpAll"
	case MsgTDumpHashes:
		return "dumpHashes"
	case MsgTDumpDifference:
		return "dumpDifference"
	case MsgTGetPeers:
		return "getPeers"
	case MsgTAddPeer:
		return "addPeer"
	case MsgTDelPeer:
		return "delPeer"
	case MsgTDualMessage:
		return "dualMessage"
	case MsgTUpdateFloodTopologyChild:
		return "updateFloodTopologyChild"
	case MsgTGetSptInfos:
		return "getSptInfos"
	case MsgTSubscribe:
		return "subscribe"
	case MsgTPublicationStream:
		return "publicationStream"
	case MsgTGetStats:
		return "getStats"
	default:
		return "unknown"
	}
}

// MarshalJSON renders a MessageType as its string name, matching dKV's
// common.MessageType.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses a MessageType from its string name.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	types := map[string]MessageType{
		"success": MsgTSuccess, "error": MsgTError,
		"set": MsgTSet, "get": MsgTGet, "dumpAll": MsgTDumpAll, "dumpHashes": MsgTDumpHashes,
		"dumpDifference": MsgTDumpDifference, "getPeers": MsgTGetPeers, "addPeer": MsgTAddPeer,
		"delPeer": MsgTDelPeer, "dualMessage": MsgTDualMessage,
		"updateFloodTopologyChild": MsgTUpdateFloodTopologyChild, "getSptInfos": MsgTGetSptInfos,
		"subscribe": MsgTSubscribe, "publicationStream": MsgTPublicationStream,
		"getStats": MsgTGetStats,
	}
	mt, ok := types[s]
	if !ok {
		return fmt.Errorf("unknown message type: %s", s)
	}
	*t = mt
	return nil
}

// KeyDumpParams mirrors §6's KeyDumpParams exactly, including the
// deprecated `prefix` field and its documented precedence (§9 Open
// Questions: keys wins when both are set).
type KeyDumpParams struct {
	Prefix            string   `json:"prefix,omitempty"`
	Keys              []string `json:"keys,omitempty"`
	OriginatorIDs     []string `json:"originatorIds,omitempty"`
	Oper              string   `json:"oper,omitempty"` // "AND" or "OR", default OR
	IgnoreTTL         bool     `json:"ignoreTtl,omitempty"`
	DoNotPublishValue bool     `json:"doNotPublishValue,omitempty"`
}

// ResolveFilter builds a kvstore.Filter from p, applying the §9 Open
// Question decision: keys wins when both prefix and keys are present;
// prefix is used only when keys is empty.
func (p KeyDumpParams) ResolveFilter() (kvstore.Filter, error) {
	keys := p.Keys
	if len(keys) == 0 && p.Prefix != "" {
		keys = []string{p.Prefix}
	}
	combinator := kvstore.CombinatorOR
	if p.Oper == "AND" {
		combinator = kvstore.CombinatorAND
	}
	return kvstore.NewFilter(keys, p.OriginatorIDs, combinator)
}

// Message is the single envelope type used for every request-surface
// call and response (§6), following the shape of dKV's common.Message:
// one struct, tagged fields, `MsgType` selecting which are populated.
type Message struct {
	MsgType MessageType `json:"msgType"`
	Area    string      `json:"area,omitempty"`

	Keys   []string `json:"keys,omitempty"`
	Params *KeyDumpParams `json:"params,omitempty"`

	Publication *kvstore.Publication `json:"publication,omitempty"`

	PeerName          string `json:"peerName,omitempty"`
	PeerEndpoint      string `json:"peerEndpoint,omitempty"`
	PeerTLSIdentity   string `json:"peerTlsIdentity,omitempty"`
	Peers             map[string]kvstore.Peer `json:"peers,omitempty"`

	TheirHashes map[string]kvstore.Value `json:"theirHashes,omitempty"`
	NeededKeys  []string                 `json:"neededKeys,omitempty"`

	// DUAL / spanning-tree fields (§4.6, §6). DualRoot/DualDistance carry a
	// process_kv_store_dual_message advertisement; ChildAdd distinguishes
	// update_flood_topology_child's add/remove direction; SptInfos carries
	// a get_spanning_tree_infos response.
	DualRoot     string                     `json:"dualRoot,omitempty"`
	DualDistance uint32                     `json:"dualDistance,omitempty"`
	ChildAdd     bool                       `json:"childAdd,omitempty"`
	SptInfos     map[string]kvstore.SptInfo `json:"sptInfos,omitempty"`

	// SuppressPayload/IgnoreTTLOnly carry a subscribe_and_get_area_kv_stores
	// request's delivery options (§4.4, §6).
	SuppressPayload bool `json:"suppressPayload,omitempty"`
	IgnoreTTLOnly   bool `json:"ignoreTtlOnly,omitempty"`

	// Stats carries a get_merge_latency_stats response (§6).
	Stats *kvstore.StatsSnapshot `json:"stats,omitempty"`

	Ok  bool   `json:"ok,omitempty"`
	Err string `json:"err,omitempty"`
}

// NewErrorMessage builds an MsgTError response carrying err's message.
func NewErrorMessage(err error) *Message {
	return &Message{MsgType: MsgTError, Err: err.Error()}
}
