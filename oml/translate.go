package oml

import (
	"github.com/golang/glog"
)

// Translate returns the `element.set` packets that bring a remote side holding `canonical`
// to `reconciled`. Each packet replaces a whole subtree at the nearest changed ancestor:
// a node is replaced when its own attributes or group presence changed, or when its child id
// sequence changed (insert, remove, reorder or a pending child). Otherwise the children are
// compared pairwise. Packets are in pre-order. Equal trees produce no packets.
// Neither tree is modified.
func Translate(reconciled *Node, canonical *Node) []Packet {
	packets := []Packet{}
	if reconciled == nil || canonical == nil {
		return packets
	}
	translateNode(reconciled, canonical, true, &packets)
	return packets
}

func translateNode(reconciled *Node, canonical *Node, root bool, packets *[]Packet) {
	if Equal(reconciled, canonical) {
		return
	}
	if !equalAttributes(reconciled.Attributes, canonical.Attributes) ||
		reconciled.HasGroup() != canonical.HasGroup() ||
		!equalChildIds(reconciled.Children, canonical.Children) {
		var targetId *string
		if !root {
			targetId = Target(canonical.Id)
		}
		packet, err := NewElementSetPacket(targetId, reconciled)
		if err != nil {
			// attribute values come from json or js and always encode
			glog.Infof("[x]encode %s = %s\n", TargetKey(targetId), err)
			return
		}
		*packets = append(*packets, packet)
		return
	}
	for i, child := range reconciled.Children {
		translateNode(child, canonical.Children[i], false, packets)
	}
}

func equalChildIds(a []*Node, b []*Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i, child := range a {
		if child.IsPending() || child.Id != b[i].Id {
			return false
		}
	}
	return true
}
