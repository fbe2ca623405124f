package oml

import (
	"fmt"

	"github.com/golang/glog"
)

type EditState int

const (
	EditPending EditState = iota
	EditAcked
	EditSuperseded
)

func (self EditState) String() string {
	switch self {
	case EditPending:
		return "pending"
	case EditAcked:
		return "acked"
	case EditSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

// A local edit that was translated and sent.
// It moves from pending to acked when the remote side echoes every set it sent,
// or to superseded when a newer local edit is sent first.
type Edit struct {
	EditId  Id
	Packets []Packet
	State   EditState
}

// one sent `element.set` waiting for its echo
type inflightSet struct {
	edit      *Edit
	targetId  *string
	targetKey string
	node      *Node
}

type RemoteResult struct {
	Replies []Packet
	// the buffer should be replaced with `Text`
	Rerender bool
	Text     string
}

// Engine owns the canonical tree of one session and the edits in flight against it.
// It is not safe for concurrent use. The session drives it from a single loop.
//
// The canonical tree only changes when remote packets are applied.
// Local edits are translated against the expected remote tree, which is the canonical tree
// with every in-flight set applied, so that a newer edit can also revert an older one.
type Engine struct {
	codec  Codec
	indent Indent

	canonical *Node
	expected  *Node

	edit     *Edit
	inflight []*inflightSet

	// the canonical tree has remote changes not yet rendered into the buffer
	stale bool
	// last text rendered into or read from the buffer
	lastText string
}

func NewEngine(root *Node, codec Codec, indent Indent) *Engine {
	return &Engine{
		codec:     codec,
		indent:    indent,
		canonical: root,
		expected:  root,
	}
}

func (self *Engine) Canonical() *Node {
	return self.canonical
}

// the latest sent edit, or nil
func (self *Engine) Edit() *Edit {
	return self.edit
}

func (self *Engine) InflightCount() int {
	return len(self.inflight)
}

// Render renders the canonical tree as the new buffer text.
// On error the last text stays current and the buffer stays stale.
func (self *Engine) Render() (string, error) {
	text, err := self.codec.Render(self.canonical, self.indent)
	if err != nil {
		return "", err
	}
	self.lastText = text
	self.stale = false
	return text, nil
}

// LocalEdit handles the full buffer text after a change and returns the packets to send.
// Text that does not parse produces no packets and leaves all state as is.
func (self *Engine) LocalEdit(text string) []Packet {
	if text == self.lastText {
		return nil
	}
	self.lastText = text

	parsed, err := self.codec.Parse(text)
	if err != nil {
		glog.V(2).Infof("[e]parse = %s\n", err)
		return nil
	}
	reconciled := Reconcile(self.expected, parsed)
	packets := Translate(reconciled, self.expected)
	if len(packets) == 0 {
		return nil
	}

	edit := &Edit{
		EditId:  NewId(),
		Packets: packets,
		State:   EditPending,
	}
	if self.edit != nil && self.edit.State == EditPending {
		self.edit.State = EditSuperseded
		glog.V(1).Infof("[e]edit %s superseded by %s\n", self.edit.EditId, edit.EditId)
	}
	self.edit = edit

	// the sent packets are exactly the ones translated, so they always apply to `expected`
	applied := Apply(self.expected, packets)
	self.expected = applied.Root
	for _, set := range applied.Sets {
		self.inflight = append(self.inflight, &inflightSet{
			edit:      edit,
			targetId:  set.TargetId,
			targetKey: TargetKey(set.TargetId),
			node:      set.Node,
		})
	}
	glog.V(1).Infof("[e]edit %s sent %d packets\n", edit.EditId, len(packets))
	return packets
}

// RemoteMessage applies one inbound message to the canonical tree.
func (self *Engine) RemoteMessage(packets []Packet) *RemoteResult {
	applied := Apply(self.canonical, packets)
	self.canonical = applied.Root

	for _, set := range applied.Sets {
		if !self.ack(set) {
			self.stale = true
			if 0 < len(self.inflight) {
				// keep local edits layered over the remote change
				if next, ok := applyAppliedSet(self.expected, set); ok {
					self.expected = next
				}
			}
		}
	}

	if 0 < len(applied.Sets) {
		self.dropOrphans()
	}

	if len(self.inflight) == 0 {
		self.expected = self.canonical
		if self.edit != nil && self.edit.State == EditPending {
			self.edit.State = EditAcked
			glog.V(1).Infof("[e]edit %s acked\n", self.edit.EditId)
		}
	}

	result := &RemoteResult{
		Replies: applied.Replies,
	}
	if self.stale && len(self.inflight) == 0 {
		text, err := self.Render()
		if err != nil {
			glog.Infof("[e]render = %s\n", err)
		} else {
			result.Rerender = true
			result.Text = text
		}
	}
	return result
}

// drops in-flight sets whose target is gone from the canonical tree.
// The remote side ignores a set for an unknown target, so no echo will come.
// The edit that sent it lost to the remote change and is superseded.
func (self *Engine) dropOrphans() {
	kept := self.inflight[:0:0]
	for _, inflight := range self.inflight {
		if IsRootTarget(inflight.targetId) || Find(self.canonical, *inflight.targetId) != nil {
			kept = append(kept, inflight)
			continue
		}
		glog.V(1).Infof("[e]edit %s target %s removed remotely\n", inflight.edit.EditId, inflight.targetKey)
		self.stale = true
		if inflight.edit.State == EditPending {
			inflight.edit.State = EditSuperseded
		}
	}
	self.inflight = kept
}

// matches an applied set against the oldest in-flight set for the same target.
// A different payload for the same target still counts as the echo, but the remote version wins.
func (self *Engine) ack(set *AppliedSet) bool {
	targetKey := TargetKey(set.TargetId)
	for i, inflight := range self.inflight {
		if inflight.targetKey != targetKey {
			continue
		}
		self.inflight = append(self.inflight[:i:i], self.inflight[i+1:]...)
		if !EqualIgnoringIds(inflight.node, set.Node) {
			glog.V(1).Infof("[e]edit %s echo %s differs\n", inflight.edit.EditId, targetKey)
			self.stale = true
		}
		return true
	}
	return false
}

func applyAppliedSet(root *Node, set *AppliedSet) (*Node, bool) {
	if IsRootTarget(set.TargetId) {
		return set.Node, true
	}
	return Replace(root, *set.TargetId, set.Node)
}
