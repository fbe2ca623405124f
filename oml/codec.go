package oml

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrParse = errors.New("OML text could not be parsed.")

// Codec converts between a tree and its identity-free text.
// Render never includes ids, and fails only for attribute values the format cannot encode.
// Parse returns an identity-free tree, or an error wrapping `ErrParse`
// for any text that is not (yet) a valid document. Parse must not panic.
type Codec interface {
	Render(node *Node, indent Indent) (string, error)
	Parse(text string) (*Node, error)
}

// Indent is the whitespace unit for one nesting level: N spaces or a single tab.
type Indent string

const TabIndent Indent = "\t"

func SpacesIndent(n int) Indent {
	if n < 1 {
		n = 1
	}
	return Indent(strings.Repeat(" ", n))
}

// ParseIndent accepts "tab" or a positive number of spaces.
func ParseIndent(value string) (Indent, error) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "tab", "\\t", "\t":
		return TabIndent, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return "", fmt.Errorf("Indent must be \"tab\" or a positive number of spaces: %q", value)
	}
	return SpacesIndent(n), nil
}

func (self Indent) IsTab() bool {
	return self == TabIndent
}

// number of columns, counting a tab as `tabWidth`
func (self Indent) Width(tabWidth int) int {
	if self.IsTab() {
		return tabWidth
	}
	return len(self)
}

func (self Indent) String() string {
	if self.IsTab() {
		return "tab"
	}
	return strconv.Itoa(len(self))
}

// format names accepted by `CodecForFormat`
const FormatJs = "js"
const FormatYaml = "yaml"

func CodecForFormat(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "", FormatJs, "javascript":
		return NewJsCodecWithDefaults(), nil
	case FormatYaml, "yml":
		return NewYamlCodec(), nil
	default:
		return nil, fmt.Errorf("Unknown format: %s", format)
	}
}

func parseError(cause error) error {
	return fmt.Errorf("%w: %w", ErrParse, cause)
}
