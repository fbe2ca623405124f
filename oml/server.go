package oml

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"
)

type ModelServerSettings struct {
	Version           string
	ReadBufferSize    int
	WriteBufferSize   int
	TransportSettings *WsTransportSettings
}

func DefaultModelServerSettings() *ModelServerSettings {
	return &ModelServerSettings{
		Version:           "0.0.0-local",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		TransportSettings: DefaultWsTransportSettings(),
	}
}

// ModelServer is a remote side that owns a tree and serves it over websocket.
// It answers `element.get` to the requesting connection. An accepted `element.set` gets ids
// for its pending elements and is then sent to every connection, including the one it came
// from, which uses its copy as the ack.
type ModelServer struct {
	ctx    context.Context
	cancel context.CancelFunc

	upgrader websocket.Upgrader

	// protects the fields below
	mutex   sync.Mutex
	root    *Node
	clients map[*WsTransport]bool

	log      LogFunction
	debugLog LogFunction

	settings *ModelServerSettings
}

func NewModelServerWithDefaults(ctx context.Context, root *Node) *ModelServer {
	return NewModelServer(ctx, root, DefaultModelServerSettings())
}

func NewModelServer(ctx context.Context, root *Node, settings *ModelServerSettings) *ModelServer {
	cancelCtx, cancel := context.WithCancel(ctx)
	if root == nil {
		root = NewGroup(NewId().String(), nil)
	}
	root = Clone(root)
	AssignIds(root, map[string]bool{})
	return &ModelServer{
		ctx:    cancelCtx,
		cancel: cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  settings.ReadBufferSize,
			WriteBufferSize: settings.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		root:     root,
		clients:  map[*WsTransport]bool{},
		log:      LogFn(LogLevelEvent, "m"),
		debugLog: LogFn(LogLevelDebug, "m"),
		settings: settings,
	}
}

func (self *ModelServer) Root() *Node {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.root
}

func (self *ModelServer) ClientCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.clients)
}

func (self *ModelServer) Close() {
	self.cancel()
}

func (self *ModelServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the http error
		self.log("upgrade error = %s", err)
		return
	}
	transport := NewWsTransport(self.ctx, ws, r.RemoteAddr, self.settings.TransportSettings)
	defer transport.Close()
	log := SubLogFn(self.log, r.RemoteAddr)

	self.mutex.Lock()
	self.clients[transport] = true
	self.mutex.Unlock()
	log("connect")

	defer func() {
		self.mutex.Lock()
		delete(self.clients, transport)
		self.mutex.Unlock()
		log("disconnect")
	}()

	for message := range transport.Receive() {
		if err := HandleError(func() {
			self.handleMessage(transport, message, log)
		}); err != nil {
			log("drop message = %s", err)
		}
	}
}

func (self *ModelServer) handleMessage(transport *WsTransport, message []byte, log LogFunction) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	replies, broadcast, err := self.applyMessage(message)
	if err != nil {
		log("drop message = %s", err)
		return
	}
	if 0 < len(replies) {
		if replyMessage, err := EncodeMessage(replies); err == nil {
			transport.Send(replyMessage)
		}
	}
	if 0 < len(broadcast) {
		if broadcastMessage, err := EncodeMessage(broadcast); err == nil {
			// under the lock so that every connection sees sets in the same order
			for client := range self.clients {
				client.Send(broadcastMessage)
			}
		}
	}
}

// HandleMessage applies one client message to the tree and returns the replies for the
// sender and the sets for every connection.
func (self *ModelServer) HandleMessage(message []byte) (replies []Packet, broadcast []Packet, err error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.applyMessage(message)
}

func (self *ModelServer) applyMessage(message []byte) (replies []Packet, broadcast []Packet, err error) {
	packets, err := DecodeMessage(message)
	if err != nil {
		return nil, nil, err
	}
	replies = []Packet{}
	broadcast = []Packet{}
	for _, packet := range packets {
		self.debugLog("%s", packet)
		switch packet.Message {
		case MessageElementGet:
			result := Apply(self.root, []Packet{packet})
			replies = append(replies, result.Replies...)
		case MessageElementSet:
			accepted, ok := self.acceptSet(packet)
			if !ok {
				continue
			}
			result := Apply(self.root, []Packet{accepted})
			if result.Update {
				self.root = result.Root
				broadcast = append(broadcast, accepted)
			}
		}
	}
	return replies, broadcast, nil
}

// gives ids to the pending elements of a set, and new ids to elements whose id is already
// used outside the replaced subtree
func (self *ModelServer) acceptSet(packet Packet) (Packet, bool) {
	set, err := packet.ElementSet()
	if err != nil {
		return Packet{}, false
	}
	node, err := set.Node()
	if err != nil {
		return Packet{}, false
	}

	used := map[string]bool{}
	if !IsRootTarget(set.TargetId) {
		target := Find(self.root, *set.TargetId)
		if target == nil {
			return Packet{}, false
		}
		replaced := Ids(target)
		for id := range Ids(self.root) {
			if replaced[id] == 0 {
				used[id] = true
			}
		}
		if node.IsPending() {
			node.Id = *set.TargetId
		}
	} else if node.IsPending() {
		node.Id = self.root.Id
	}
	AssignIds(node, used)

	accepted, err := NewElementSetPacket(set.TargetId, node)
	if err != nil {
		return Packet{}, false
	}
	return accepted, true
}

// AssignIds gives a new id to every pending element and every element whose id is in `used`
// or repeats an earlier id in the tree. Assigned ids are added to `used`.
func AssignIds(root *Node, used map[string]bool) {
	Walk(root, func(node *Node) {
		if node.IsPending() || used[node.Id] {
			node.Id = NewId().String()
		}
		used[node.Id] = true
	})
}

// StatusHandler serves the server status as json.
func (self *ModelServer) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		type ModelStatusResult struct {
			Version  string `json:"version"`
			Status   string `json:"status"`
			RootId   string `json:"root_id"`
			Elements int    `json:"elements"`
			Clients  int    `json:"clients"`
		}

		self.mutex.Lock()
		result := &ModelStatusResult{
			Version:  self.settings.Version,
			Status:   "ok",
			RootId:   self.root.Id,
			Elements: Size(self.root),
			Clients:  len(self.clients),
		}
		self.mutex.Unlock()

		responseJson, err := json.Marshal(result)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(responseJson)
	})
}

// LoadTree reads a seed tree from a .json, .yaml or .yml file.
// The file holds the id-bearing form; missing ids are assigned by the server.
func LoadTree(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var value any
		if err := yaml.Unmarshal(data, &value); err != nil {
			return nil, err
		}
		data, err = json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	root, err := ParseNodeJson(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return root, nil
}
