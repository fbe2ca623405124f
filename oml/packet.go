package oml

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"
)

const MessageElementGet = "element.get"
const MessageElementSet = "element.set"

// One protocol message. A transport message carries a json array of packets.
// `Data` is kept raw so that packets of unknown kinds survive decoding and can be skipped.
type Packet struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// a nil target addresses the root
type ElementGet struct {
	TargetId *string `json:"targetId"`
}

// `Oml` is the json encoding of an id-bearing tree
type ElementSet struct {
	TargetId *string `json:"targetId"`
	Oml      string  `json:"oml"`
}

func Target(id string) *string {
	return &id
}

func IsRootTarget(targetId *string) bool {
	return targetId == nil
}

// comparable key for a target
func TargetKey(targetId *string) string {
	if targetId == nil {
		return "null"
	}
	return fmt.Sprintf("%q", *targetId)
}

func NewElementGetPacket(targetId *string) Packet {
	data, _ := json.Marshal(&ElementGet{
		TargetId: targetId,
	})
	return Packet{
		Message: MessageElementGet,
		Data:    data,
	}
}

func NewElementSetPacket(targetId *string, node *Node) (Packet, error) {
	omlJson, err := json.Marshal(node)
	if err != nil {
		return Packet{}, err
	}
	data, err := json.Marshal(&ElementSet{
		TargetId: targetId,
		Oml:      string(omlJson),
	})
	if err != nil {
		return Packet{}, err
	}
	return Packet{
		Message: MessageElementSet,
		Data:    data,
	}, nil
}

func (self Packet) ElementGet() (*ElementGet, error) {
	if self.Message != MessageElementGet {
		return nil, fmt.Errorf("Not %s: %s", MessageElementGet, self.Message)
	}
	get := &ElementGet{}
	if err := decodePacketData(self.Data, get); err != nil {
		return nil, err
	}
	return get, nil
}

func (self Packet) ElementSet() (*ElementSet, error) {
	if self.Message != MessageElementSet {
		return nil, fmt.Errorf("Not %s: %s", MessageElementSet, self.Message)
	}
	set := &ElementSet{}
	if err := decodePacketData(self.Data, set); err != nil {
		return nil, err
	}
	return set, nil
}

func decodePacketData(data json.RawMessage, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return fmt.Errorf("%w: packet data must be an object", ErrShape)
	}
	return json.Unmarshal(data, v)
}

// decodes the set payload
func (self *ElementSet) Node() (*Node, error) {
	return ParseNodeJson([]byte(self.Oml))
}

func (self Packet) String() string {
	switch self.Message {
	case MessageElementGet, MessageElementSet:
		var data struct {
			TargetId *string `json:"targetId"`
		}
		if err := json.Unmarshal(self.Data, &data); err == nil {
			return fmt.Sprintf("%s(%s)", self.Message, TargetKey(data.TargetId))
		}
	}
	return self.Message
}

// EncodeMessage encodes packets as one transport message.
func EncodeMessage(packets []Packet) ([]byte, error) {
	if packets == nil {
		packets = []Packet{}
	}
	return json.Marshal(packets)
}

// DecodeMessage decodes one transport message.
// A message that is not json, or not an array of objects, is an error and should be dropped whole.
// A single packet object is accepted as a one-packet message.
// Array elements that are not packets are skipped.
func DecodeMessage(data []byte) ([]Packet, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrShape)
	}
	if data[0] == '{' {
		var packet Packet
		if err := json.Unmarshal(data, &packet); err != nil {
			return nil, err
		}
		return []Packet{packet}, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}
	if raws == nil {
		return nil, fmt.Errorf("%w: message must be an array", ErrShape)
	}
	packets := make([]Packet, 0, len(raws))
	for i, raw := range raws {
		var packet Packet
		if err := json.Unmarshal(raw, &packet); err != nil {
			glog.V(2).Infof("[p]skip packet %d = %s\n", i, err)
			continue
		}
		packets = append(packets, packet)
	}
	return packets, nil
}
