package substrate

import (
	"fmt"

	"github.com/papercomputeco/substrate/pkg/packet"
)

// OrderThread arranges a thread's live envelopes into lineage order, oldest
// first. The set must form a single unbroken chain: exactly one root, one
// child per predecessor, every declared predecessor present. Any other shape
// surfaces as BrokenLineageError, never as a silently shortened chain.
func OrderThread(threadID string, members []*packet.Envelope) ([]*packet.Envelope, error) {
	if len(members) == 0 {
		return nil, nil
	}

	byID := make(map[string]*packet.Envelope, len(members))
	for _, e := range members {
		byID[e.PacketID] = e
	}

	var root *packet.Envelope
	children := make(map[string]*packet.Envelope, len(members))
	for _, e := range members {
		if e.Lineage == nil {
			if root != nil {
				return nil, BrokenLineageError{
					ThreadID: threadID,
					PacketID: e.PacketID,
					Reason:   fmt.Sprintf("is a second root alongside %s", root.PacketID),
				}
			}
			root = e
			continue
		}
		if _, ok := byID[*e.Lineage]; !ok {
			return nil, BrokenLineageError{
				ThreadID:      threadID,
				PacketID:      e.PacketID,
				PredecessorID: *e.Lineage,
			}
		}
		if prev, ok := children[*e.Lineage]; ok {
			return nil, BrokenLineageError{
				ThreadID:      threadID,
				PacketID:      e.PacketID,
				PredecessorID: *e.Lineage,
				Reason: fmt.Sprintf("forks predecessor %s, already extended by %s",
					*e.Lineage, prev.PacketID),
			}
		}
		children[*e.Lineage] = e
	}

	if root == nil {
		// No rootless envelope means a cycle or a truncated chain.
		e := members[0]
		return nil, BrokenLineageError{
			ThreadID:      threadID,
			PacketID:      e.PacketID,
			PredecessorID: *e.Lineage,
		}
	}

	ordered := make([]*packet.Envelope, 0, len(members))
	for cur := root; cur != nil; cur = children[cur.PacketID] {
		ordered = append(ordered, cur)
	}

	if len(ordered) != len(members) {
		// A cycle among non-root members leaves them unreachable from the root.
		return nil, BrokenLineageError{
			ThreadID: threadID,
			PacketID: root.PacketID,
			Reason:   "heads a chain that does not reach every live envelope",
		}
	}

	return ordered, nil
}
