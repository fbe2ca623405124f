package oml

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestEncodeMessage(t *testing.T) {
	message, err := EncodeMessage([]Packet{NewElementGetPacket(nil)})
	assert.Equal(t, err, nil)
	assert.Equal(t, string(message), `[{"message":"element.get","data":{"targetId":null}}]`)

	message, err = EncodeMessage([]Packet{NewElementGetPacket(Target("a"))})
	assert.Equal(t, err, nil)
	assert.Equal(t, string(message), `[{"message":"element.get","data":{"targetId":"a"}}]`)

	set, err := NewElementSetPacket(Target("a"), NewNode("a", map[string]any{"k": "v"}))
	assert.Equal(t, err, nil)
	message, err = EncodeMessage([]Packet{set})
	assert.Equal(t, err, nil)
	assert.Equal(t, string(message), `[{"message":"element.set","data":{"targetId":"a","oml":"{\"id\":\"a\",\"k\":\"v\"}"}}]`)

	message, err = EncodeMessage(nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(message), `[]`)
}

func TestDecodeMessage(t *testing.T) {
	packets, err := DecodeMessage([]byte(`[{"message":"element.get","data":{"targetId":null}},{"message":"element.set","data":{"targetId":"a","oml":"{\"id\":\"a\"}"}}]`))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(packets), 2)
	assert.Equal(t, packets[0].String(), "element.get(null)")
	assert.Equal(t, packets[1].String(), `element.set("a")`)

	get, err := packets[0].ElementGet()
	assert.Equal(t, err, nil)
	assert.Equal(t, get.TargetId, nil)
	_, err = packets[0].ElementSet()
	assert.NotEqual(t, err, nil)

	set, err := packets[1].ElementSet()
	assert.Equal(t, err, nil)
	node, err := set.Node()
	assert.Equal(t, err, nil)
	assert.Equal(t, node.Id, "a")

	// a single packet object
	packets, err = DecodeMessage([]byte(` {"message":"element.get","data":{"targetId":"a"}}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(packets), 1)

	// elements that are not packets are skipped
	packets, err = DecodeMessage([]byte(`[1, "x", {"message":"element.get","data":{"targetId":null}}, null]`))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(packets), 2)
	assert.Equal(t, packets[0].Message, MessageElementGet)

	packets, err = DecodeMessage([]byte(`[]`))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(packets), 0)
}

func TestDecodeMessageMalformed(t *testing.T) {
	for _, bad := range []string{
		``,
		`   `,
		`null`,
		`"x"`,
		`42`,
		`[{"message":`,
		`{"message":1}`,
	} {
		_, err := DecodeMessage([]byte(bad))
		assert.NotEqual(t, err, nil)
	}

	_, err := DecodeMessage([]byte(`null`))
	assert.Equal(t, errors.Is(err, ErrShape), true)
}

func TestTargetKey(t *testing.T) {
	assert.Equal(t, TargetKey(nil), "null")
	assert.Equal(t, TargetKey(Target("a")), `"a"`)
	// an element with id "null" is not the root
	assert.NotEqual(t, TargetKey(Target("null")), TargetKey(nil))
	assert.Equal(t, IsRootTarget(nil), true)
	assert.Equal(t, IsRootTarget(Target("")), false)
}
