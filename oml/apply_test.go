package oml

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func mustSet(t *testing.T, targetId *string, node *Node) Packet {
	packet, err := NewElementSetPacket(targetId, node)
	assert.Equal(t, err, nil)
	return packet
}

func TestApplyGet(t *testing.T) {
	tree := testTree()

	result := Apply(tree, []Packet{NewElementGetPacket(nil)})
	assert.Equal(t, result.Update, false)
	assert.Equal(t, result.Root == tree, true)
	assert.Equal(t, len(result.Replies), 1)

	set, err := result.Replies[0].ElementSet()
	assert.Equal(t, err, nil)
	assert.Equal(t, set.TargetId, nil)
	node, err := set.Node()
	assert.Equal(t, err, nil)
	assert.Equal(t, Equal(node, tree), true)

	result = Apply(tree, []Packet{NewElementGetPacket(Target("b")), NewElementGetPacket(Target("missing"))})
	assert.Equal(t, len(result.Replies), 1)
	set, _ = result.Replies[0].ElementSet()
	assert.Equal(t, *set.TargetId, "b")
	node, _ = set.Node()
	assert.Equal(t, Equal(node, Find(tree, "b")), true)
}

func TestApplySet(t *testing.T) {
	tree := testTree()

	replacement := NewGroup("a", map[string]any{"type": "list"},
		NewNode("a1", map[string]any{"type": "item"}),
	)
	result := Apply(tree, []Packet{mustSet(t, Target("a"), replacement)})
	assert.Equal(t, result.Update, true)
	assert.Equal(t, len(result.Replies), 0)
	assert.Equal(t, len(result.Sets), 1)
	assert.Equal(t, *result.Sets[0].TargetId, "a")
	assert.Equal(t, Equal(Find(result.Root, "a"), replacement), true)
	assert.Equal(t, Find(result.Root, "a1") != nil, true)
	// the input is never modified
	assert.Equal(t, Equal(tree, testTree()), true)

	// same packet again is a no-op on the tree
	again := Apply(result.Root, []Packet{mustSet(t, Target("a"), replacement)})
	assert.Equal(t, Equal(again.Root, result.Root), true)

	// a payload root without an id takes the target id
	result = Apply(tree, []Packet{mustSet(t, Target("c"), NewNode("", map[string]any{"type": "text"}))})
	assert.Equal(t, result.Root.Children[2].Id, "c")
	assert.Equal(t, result.Root.Children[2].Attributes["value"], nil)

	// the set payload ids replace the subtree ids
	result = Apply(tree, []Packet{mustSet(t, Target("b"), NewGroup("b", nil, NewNode("b9", nil)))})
	assert.Equal(t, Find(result.Root, "b1"), nil)
	assert.Equal(t, Find(result.Root, "b9") != nil, true)
}

func TestApplyRootSet(t *testing.T) {
	// bootstrap: no tree yet
	tree := testTree()
	result := Apply(nil, []Packet{mustSet(t, nil, tree)})
	assert.Equal(t, result.Update, true)
	assert.Equal(t, Equal(result.Root, tree), true)

	// a pending root keeps the current root id
	result = Apply(tree, []Packet{mustSet(t, nil, NewGroup("", map[string]any{"name": "next"}))})
	assert.Equal(t, result.Root.Id, "r1")
	assert.Equal(t, result.Root.Attributes["name"], "next")
	assert.Equal(t, len(result.Root.Children), 0)
}

func TestApplyOrder(t *testing.T) {
	tree := testTree()

	// later packets see earlier ones
	result := Apply(tree, []Packet{
		mustSet(t, Target("b"), NewGroup("b", nil, NewNode("b3", nil))),
		mustSet(t, Target("b3"), NewNode("b3", map[string]any{"n": 3})),
		NewElementGetPacket(Target("b")),
	})
	assert.Equal(t, len(result.Sets), 2)
	assert.Equal(t, len(result.Replies), 1)
	set, _ := result.Replies[0].ElementSet()
	node, _ := set.Node()
	assert.Equal(t, node.Children[0].Attributes["n"], float64(3))
}

func TestApplySkips(t *testing.T) {
	tree := testTree()

	result := Apply(tree, []Packet{
		{Message: "element.delete", Data: json.RawMessage(`{"targetId":"a"}`)},
		{Message: MessageElementSet, Data: json.RawMessage(`"x"`)},
		{Message: MessageElementSet, Data: json.RawMessage(`{"targetId":5,"oml":"{}"}`)},
		{Message: MessageElementSet, Data: json.RawMessage(`{"targetId":"a","oml":"{not json"}`)},
		{Message: MessageElementSet, Data: json.RawMessage(`{"targetId":"a","oml":"[]"}`)},
		{Message: MessageElementGet},
		mustSet(t, Target("missing"), NewNode("missing", nil)),
	})
	assert.Equal(t, result.Update, false)
	assert.Equal(t, len(result.Sets), 0)
	assert.Equal(t, len(result.Replies), 0)
	assert.Equal(t, result.Root == tree, true)

	// skipped packets do not stop the rest
	result = Apply(tree, []Packet{
		{Message: "element.delete"},
		mustSet(t, Target("a"), NewNode("a", nil)),
	})
	assert.Equal(t, result.Update, true)
	assert.Equal(t, len(Find(result.Root, "a").Attributes), 0)
}
