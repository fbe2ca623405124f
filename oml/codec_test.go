package oml

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func renderText(t *testing.T, codec Codec, node *Node, indent Indent) string {
	text, err := codec.Render(node, indent)
	assert.Equal(t, err, nil)
	return text
}

func TestJsRender(t *testing.T) {
	codec := NewJsCodecWithDefaults()

	tree := NewGroup("r1", map[string]any{"name": "root"},
		NewNode("a", map[string]any{"type": "text", "value": "it's"}),
	)
	assert.Equal(
		t,
		renderText(t, codec, tree, SpacesIndent(2)),
		"module.exports = {\n  oml: {\n    name: 'root',\n    group: [\n      {\n        type: 'text',\n        value: 'it\\'s'\n      }\n    ]\n  }\n}",
	)

	assert.Equal(
		t,
		renderText(t, codec, NewGroup("r1", nil), SpacesIndent(2)),
		"module.exports = {\n  oml: {\n    group: []\n  }\n}",
	)

	assert.Equal(
		t,
		renderText(t, codec, NewNode("r1", nil), TabIndent),
		"module.exports = {\n\toml: {}\n}",
	)

	// ids never appear in the text
	assert.Equal(t, strings.Contains(renderText(t, codec, testTree(), SpacesIndent(4)), "r1"), false)
}

func TestJsRoundTrip(t *testing.T) {
	codec := NewJsCodecWithDefaults()

	tree := NewGroup("r1", map[string]any{
		"quote":  "a'b\\c\nd e",
		"data-x": true,
		"n":      1.5,
		"big":    1e21,
		"none":   nil,
		"list":   []any{1, "two", map[string]any{"three": 3}},
		"nested": map[string]any{"b": 2, "a": []any{}},
	},
		NewNode("a", map[string]any{"type": "text", "value": "hello"}),
		NewGroup("b", nil),
	)

	for _, indent := range []Indent{SpacesIndent(2), SpacesIndent(4), TabIndent} {
		parsed, err := codec.Parse(renderText(t, codec, tree, indent))
		assert.Equal(t, err, nil)
		assert.Equal(t, EqualIgnoringIds(parsed, tree), true)
		assert.Equal(t, len(Ids(parsed)), 0)
	}
}

func TestJsParse(t *testing.T) {
	codec := NewJsCodecWithDefaults()

	// ids written by hand are dropped
	parsed, err := codec.Parse(`module.exports = {oml: {id: 'x', group: [{id: 'y', k: 'v'}]}}`)
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed.Id, "")
	assert.Equal(t, parsed.Children[0].Id, "")
	assert.Equal(t, parsed.Children[0].Attributes["k"], "v")

	// computed values
	parsed, err = codec.Parse(`
		const items = [1, 2].map(function (i) { return {i: i} });
		module.exports = {oml: {n: 1 + 1, group: items}};
	`)
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed.Attributes["n"], float64(2))
	assert.Equal(t, len(parsed.Children), 2)
	assert.Equal(t, parsed.Children[1].Attributes["i"], float64(2))

	// module may be reassigned
	parsed, err = codec.Parse(`module = {exports: {oml: {k: 1}}}`)
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed.Attributes["k"], float64(1))
	assert.Equal(t, parsed.HasGroup(), false)
}

func TestJsParseErrors(t *testing.T) {
	codec := NewJsCodecWithDefaults()

	for _, text := range []string{
		``,
		`module.exports = {oml: `,
		`var x = 1`,
		`module.exports = {oml: null}`,
		`module.exports = {oml: function () {}}`,
		`module.exports = {oml: [1, 2]}`,
		`module.exports = {oml: {group: 5}}`,
		`module.exports = {oml: {group: [1]}}`,
		`module = null`,
		`throw new Error('no')`,
		// nothing outside the language is bound
		`module.exports = {oml: require('fs')}`,
		`module.exports = {oml: {cwd: process.cwd()}}`,
		// unbounded recursion
		`function f() { return f() } module.exports = {oml: f()}`,
	} {
		node, err := codec.Parse(text)
		assert.Equal(t, node, nil)
		assert.Equal(t, errors.Is(err, ErrParse), true)
	}

	_, err := codec.Parse(`module.exports = {oml: {group: [1]}}`)
	assert.Equal(t, errors.Is(err, ErrShape), true)
}

func TestJsParseTimeout(t *testing.T) {
	codec := NewJsCodec(&JsCodecSettings{
		EvalTimeout:      50 * time.Millisecond,
		MaxCallStackSize: 1024,
	})

	start := time.Now()
	_, err := codec.Parse(`while (true) {}`)
	assert.Equal(t, errors.Is(err, ErrParse), true)
	assert.Equal(t, time.Since(start) < 5*time.Second, true)

	// a fresh runtime per parse
	parsed, err := codec.Parse(`module.exports = {oml: {k: 'v'}}`)
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed.Attributes["k"], "v")
}

func TestYamlRoundTrip(t *testing.T) {
	codec := NewYamlCodec()

	tree := testTree()
	tree.Children = append(tree.Children, NewNode("d", nil), NewGroup("e", nil))

	for _, indent := range []Indent{SpacesIndent(2), SpacesIndent(4), TabIndent} {
		text := renderText(t, codec, tree, indent)
		assert.Equal(t, strings.HasPrefix(text, "oml:\n"), true)
		assert.Equal(t, strings.Contains(text, "name: root"), true)
		assert.Equal(t, strings.Contains(text, "\t"), false)
		assert.Equal(t, strings.Contains(text, "r1"), false)

		parsed, err := codec.Parse(text)
		assert.Equal(t, err, nil)
		assert.Equal(t, EqualIgnoringIds(parsed, tree), true)
	}

	_, err := codec.Parse("oml: [")
	assert.Equal(t, errors.Is(err, ErrParse), true)
	_, err = codec.Parse("other: 1")
	assert.Equal(t, errors.Is(err, ErrParse), true)
	_, err = codec.Parse("oml:\n  group: 1")
	assert.Equal(t, errors.Is(err, ErrParse), true)
}

func TestIndent(t *testing.T) {
	indent, err := ParseIndent("tab")
	assert.Equal(t, err, nil)
	assert.Equal(t, indent, TabIndent)
	assert.Equal(t, indent.Width(4), 4)
	assert.Equal(t, indent.String(), "tab")

	indent, err = ParseIndent("3")
	assert.Equal(t, err, nil)
	assert.Equal(t, indent, Indent("   "))
	assert.Equal(t, indent.Width(4), 3)

	_, err = ParseIndent("0")
	assert.NotEqual(t, err, nil)
	_, err = ParseIndent("wide")
	assert.NotEqual(t, err, nil)

	_, err = CodecForFormat("xml")
	assert.NotEqual(t, err, nil)
}

func TestRenderUnencodable(t *testing.T) {
	tree := NewGroup("r1", nil,
		NewNode("a", map[string]any{"callback": func() {}}),
	)
	for _, codec := range []Codec{NewJsCodecWithDefaults(), NewYamlCodec()} {
		text, err := codec.Render(tree, SpacesIndent(2))
		assert.NotEqual(t, err, nil)
		assert.Equal(t, text, "")
	}
}
