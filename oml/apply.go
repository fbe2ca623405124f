package oml

import (
	"github.com/golang/glog"
)

type ApplyResult struct {
	// the canonical tree after the packets. The input tree is never modified.
	Root    *Node
	Replies []Packet
	// true when any `element.set` was applied
	Update bool
	// applied sets, in arrival order
	Sets []*AppliedSet
}

type AppliedSet struct {
	TargetId *string
	Node     *Node
}

// Apply processes packets in order against `root`.
// `element.get` queues a reply `element.set` with the addressed subtree.
// `element.set` replaces the addressed subtree with the payload, keeping the payload ids.
// A payload root without an id takes the id of the node it replaces.
// Unknown kinds, malformed data and unknown targets are skipped.
func Apply(root *Node, packets []Packet) *ApplyResult {
	result := &ApplyResult{
		Root:    root,
		Replies: []Packet{},
		Sets:    []*AppliedSet{},
	}
	for _, packet := range packets {
		switch packet.Message {
		case MessageElementGet:
			applyGet(result, packet)
		case MessageElementSet:
			applySet(result, packet)
		default:
			glog.V(2).Infof("[a]skip unknown %s\n", packet.Message)
		}
	}
	return result
}

func applyGet(result *ApplyResult, packet Packet) {
	get, err := packet.ElementGet()
	if err != nil {
		glog.V(2).Infof("[a]skip malformed get = %s\n", err)
		return
	}
	var subtree *Node
	if IsRootTarget(get.TargetId) {
		subtree = result.Root
	} else {
		subtree = Find(result.Root, *get.TargetId)
	}
	if subtree == nil {
		glog.V(2).Infof("[a]skip get unknown %s\n", TargetKey(get.TargetId))
		return
	}
	reply, err := NewElementSetPacket(get.TargetId, subtree)
	if err != nil {
		glog.Infof("[a]encode %s = %s\n", TargetKey(get.TargetId), err)
		return
	}
	result.Replies = append(result.Replies, reply)
}

func applySet(result *ApplyResult, packet Packet) {
	set, err := packet.ElementSet()
	if err != nil {
		glog.V(2).Infof("[a]skip malformed set = %s\n", err)
		return
	}
	node, err := set.Node()
	if err != nil {
		glog.V(2).Infof("[a]skip malformed oml %s = %s\n", TargetKey(set.TargetId), err)
		return
	}

	if IsRootTarget(set.TargetId) {
		if node.IsPending() && result.Root != nil {
			node.Id = result.Root.Id
		}
		result.Root = node
	} else {
		if node.IsPending() {
			node.Id = *set.TargetId
		}
		next, ok := Replace(result.Root, *set.TargetId, node)
		if !ok {
			glog.V(2).Infof("[a]skip set unknown %s\n", TargetKey(set.TargetId))
			return
		}
		result.Root = next
	}
	result.Update = true
	result.Sets = append(result.Sets, &AppliedSet{
		TargetId: set.TargetId,
		Node:     node,
	})
}
