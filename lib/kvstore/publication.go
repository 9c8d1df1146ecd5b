package kvstore

// Publication is the unit exchanged between peers and delivered to
// subscribers (§3 "Publication", §6 "Wire publication"). Its wire
// encoding lives in package wire; this type is the in-process
// representation the merge/flood/publisher pipeline passes around.
type Publication struct {
	AreaID      string           `json:"area"`
	KeyVals     map[string]Value `json:"keyVals"`
	ExpiredKeys []string         `json:"expiredKeys,omitempty"`
	TimestampMs int64            `json:"timestamp,omitempty"`
	NodeIDs     []string         `json:"nodeIds,omitempty"` // flood-loop diagnostics (§6, SPEC_FULL supplemented feature)
}

// IsEmpty reports whether the publication carries no content at all -
// used to skip flooding and subscriber fan-out for no-op merges.
func (p Publication) IsEmpty() bool {
	return len(p.KeyVals) == 0 && len(p.ExpiredKeys) == 0
}

// WithNodeID returns a copy of p with localID appended to NodeIDs, used
// by the flooder to stamp outgoing publications for loop detection
// (SPEC_FULL "originator flood-loop diagnostics").
func (p Publication) WithNodeID(localID string) Publication {
	cp := p
	cp.NodeIDs = append(append([]string(nil), p.NodeIDs...), localID)
	return cp
}

// HasVisited reports whether nodeID already appears in NodeIDs, meaning
// this publication has looped back to a node that already relayed it
// (SPEC_FULL supplemented feature grounded on openr's node_ids field).
func (p Publication) HasVisited(nodeID string) bool {
	for _, id := range p.NodeIDs {
		if id == nodeID {
			return true
		}
	}
	return false
}
