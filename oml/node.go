package oml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// reserved keys of the wire and text forms. Every other key is an attribute.
const IdKey = "id"
const GroupKey = "group"

var ErrShape = errors.New("Unexpected OML shape.")

// An OML element.
// `Id` is assigned by the remote side. An empty id means the node is pending assignment.
// `Children` nil means the element has no `group` key. A non-nil empty slice is `group: []`.
type Node struct {
	Id         string
	Attributes map[string]any
	Children   []*Node
}

// a leaf element with no `group`
func NewNode(id string, attributes map[string]any) *Node {
	return &Node{
		Id:         id,
		Attributes: normalizeAttributes(attributes),
	}
}

// an element with a `group`, possibly empty
func NewGroup(id string, attributes map[string]any, children ...*Node) *Node {
	if children == nil {
		children = []*Node{}
	}
	return &Node{
		Id:         id,
		Attributes: normalizeAttributes(attributes),
		Children:   children,
	}
}

func (self *Node) HasGroup() bool {
	return self.Children != nil
}

func (self *Node) IsPending() bool {
	return self.Id == ""
}

// keys in render order: sorted attributes
func (self *Node) AttributeKeys() []string {
	keys := maps.Keys(self.Attributes)
	slices.Sort(keys)
	return keys
}

func (self *Node) String() string {
	b, err := json.Marshal(self)
	if err != nil {
		return fmt.Sprintf("<%s>", err)
	}
	return string(b)
}

// Equal reports whether two trees have the same ids, attributes and children at every depth.
func Equal(a *Node, b *Node) bool {
	return equalNodes(a, b, true)
}

// EqualIgnoringIds compares structure only.
func EqualIgnoringIds(a *Node, b *Node) bool {
	return equalNodes(a, b, false)
}

func equalNodes(a *Node, b *Node, ids bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	if ids && a.Id != b.Id {
		return false
	}
	if !equalShallow(a, b) {
		return false
	}
	for i, child := range a.Children {
		if !equalNodes(child, b.Children[i], ids) {
			return false
		}
	}
	return true
}

// compares attributes, group presence and child count, but not the children themselves
func equalShallow(a *Node, b *Node) bool {
	if a.HasGroup() != b.HasGroup() {
		return false
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	return equalAttributes(a.Attributes, b.Attributes)
}

func equalAttributes(a map[string]any, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for key, av := range a {
		bv, ok := b[key]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(normalizeValue(av), normalizeValue(bv)) {
			return false
		}
	}
	return true
}

// Clone deep copies a tree.
func Clone(node *Node) *Node {
	return cloneNode(node, true)
}

// StripIds deep copies a tree without ids. The source is not modified.
func StripIds(node *Node) *Node {
	return cloneNode(node, false)
}

func cloneNode(node *Node, ids bool) *Node {
	if node == nil {
		return nil
	}
	clone := &Node{
		Attributes: normalizeAttributes(node.Attributes),
	}
	if ids {
		clone.Id = node.Id
	}
	if node.Children != nil {
		clone.Children = make([]*Node, len(node.Children))
		for i, child := range node.Children {
			clone.Children[i] = cloneNode(child, ids)
		}
	}
	return clone
}

// Find returns the subtree with the given id.
// Pending nodes cannot be found.
func Find(root *Node, id string) *Node {
	if root == nil || id == "" {
		return nil
	}
	if root.Id == id {
		return root
	}
	for _, child := range root.Children {
		if found := Find(child, id); found != nil {
			return found
		}
	}
	return nil
}

// Replace returns a new root where the subtree with `id` is swapped for `subtree`.
// Only the path to the replaced node is copied. `root` is not modified.
func Replace(root *Node, id string, subtree *Node) (*Node, bool) {
	if root == nil || id == "" {
		return root, false
	}
	if root.Id == id {
		return subtree, true
	}
	for i, child := range root.Children {
		if replaced, ok := Replace(child, id, subtree); ok {
			next := *root
			next.Children = slices.Clone(root.Children)
			next.Children[i] = replaced
			return &next, true
		}
	}
	return root, false
}

// Walk visits every node in pre-order.
func Walk(root *Node, visit func(node *Node)) {
	if root == nil {
		return
	}
	visit(root)
	for _, child := range root.Children {
		Walk(child, visit)
	}
}

// Ids counts each assigned id in the tree. A count over 1 breaks id uniqueness.
func Ids(root *Node) map[string]int {
	ids := map[string]int{}
	Walk(root, func(node *Node) {
		if node.Id != "" {
			ids[node.Id] += 1
		}
	})
	return ids
}

func Size(root *Node) int {
	n := 0
	Walk(root, func(node *Node) {
		n += 1
	})
	return n
}

func (self *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	writeKey := func(key string) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		keyJson, _ := json.Marshal(key)
		buf.Write(keyJson)
		buf.WriteByte(':')
	}
	if self.Id != "" {
		writeKey(IdKey)
		idJson, _ := json.Marshal(self.Id)
		buf.Write(idJson)
	}
	for _, key := range self.AttributeKeys() {
		valueJson, err := json.Marshal(self.Attributes[key])
		if err != nil {
			return nil, fmt.Errorf("Attribute %s: %w", key, err)
		}
		writeKey(key)
		buf.Write(valueJson)
	}
	if self.Children != nil {
		writeKey(GroupKey)
		buf.WriteByte('[')
		for i, child := range self.Children {
			if i > 0 {
				buf.WriteByte(',')
			}
			childJson, err := child.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(childJson)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (self *Node) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return fmt.Errorf("%w: element must be an object", ErrShape)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	node := Node{}
	for key, raw := range fields {
		switch key {
		case IdKey:
			id, err := parseIdJson(raw)
			if err != nil {
				return err
			}
			node.Id = id
		case GroupKey:
			var group []json.RawMessage
			if err := json.Unmarshal(raw, &group); err != nil {
				return fmt.Errorf("%w: group must be an array", ErrShape)
			}
			if group == nil {
				// `group: null`
				return fmt.Errorf("%w: group must be an array", ErrShape)
			}
			node.Children = make([]*Node, len(group))
			for i, childJson := range group {
				child := &Node{}
				if err := child.UnmarshalJSON(childJson); err != nil {
					return err
				}
				node.Children[i] = child
			}
		default:
			var value any
			if err := json.Unmarshal(raw, &value); err != nil {
				return err
			}
			if node.Attributes == nil {
				node.Attributes = map[string]any{}
			}
			node.Attributes[key] = value
		}
	}
	*self = node
	return nil
}

func parseIdJson(raw json.RawMessage) (string, error) {
	var id any
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", err
	}
	switch v := id.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64:
		// numeric ids are kept in their wire spelling
		return string(bytes.TrimSpace(raw)), nil
	default:
		return "", fmt.Errorf("%w: id must be a string", ErrShape)
	}
}

// ParseNodeJson decodes an id-bearing tree payload.
func ParseNodeJson(data []byte) (*Node, error) {
	node := &Node{}
	if err := node.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return node, nil
}

func normalizeAttributes(attributes map[string]any) map[string]any {
	if len(attributes) == 0 {
		return nil
	}
	normalized := make(map[string]any, len(attributes))
	for key, value := range attributes {
		normalized[key] = normalizeValue(value)
	}
	return normalized
}

// numbers are compared and stored as float64, the same as values decoded from JSON
func normalizeValue(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []any:
		values := make([]any, len(v))
		for i, e := range v {
			values[i] = normalizeValue(e)
		}
		return values
	case map[string]any:
		values := make(map[string]any, len(v))
		for k, e := range v {
			values[k] = normalizeValue(e)
		}
		return values
	default:
		return v
	}
}
