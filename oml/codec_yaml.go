package oml

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// tabs are not legal yaml indentation
const yamlTabWidth = 4

// YamlCodec renders the identity-free tree as a yaml document with a single `oml` key.
// Attribute keys are sorted and `group` comes last, the same as the js form.
type YamlCodec struct {
}

func NewYamlCodec() *YamlCodec {
	return &YamlCodec{}
}

func (self *YamlCodec) Render(node *Node, indent Indent) (string, error) {
	omlNode, err := yamlNode(StripIds(node))
	if err != nil {
		return "", err
	}
	doc := &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			yamlKey(jsExportKey),
			omlNode,
		},
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	// widths under 2 fall back to the encoder default
	enc.SetIndent(indent.Width(yamlTabWidth))
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("Render yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("Render yaml: %w", err)
	}
	return buf.String(), nil
}

func yamlKey(key string) *yaml.Node {
	return &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!str",
		Value: key,
	}
}

func yamlNode(node *Node) (*yaml.Node, error) {
	out := &yaml.Node{
		Kind: yaml.MappingNode,
	}
	for _, key := range node.AttributeKeys() {
		value := &yaml.Node{}
		if err := value.Encode(node.Attributes[key]); err != nil {
			return nil, fmt.Errorf("Render yaml attribute %s: %w", key, err)
		}
		out.Content = append(out.Content, yamlKey(key), value)
	}
	if node.HasGroup() {
		group := &yaml.Node{
			Kind: yaml.SequenceNode,
		}
		for _, child := range node.Children {
			childNode, err := yamlNode(child)
			if err != nil {
				return nil, err
			}
			group.Content = append(group.Content, childNode)
		}
		out.Content = append(out.Content, yamlKey(GroupKey), group)
	}
	if len(out.Content) == 0 {
		out.Style = yaml.FlowStyle
	}
	return out, nil
}

func (self *YamlCodec) Parse(text string) (*Node, error) {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, parseError(err)
	}
	oml, ok := doc[jsExportKey]
	if !ok || oml == nil {
		return nil, parseError(errMissingExport)
	}
	// go through json so that values match the wire decoding
	omlJson, err := json.Marshal(oml)
	if err != nil {
		return nil, parseError(err)
	}
	parsed, err := ParseNodeJson(omlJson)
	if err != nil {
		return nil, parseError(err)
	}
	return StripIds(parsed), nil
}
