package oml

import (
	"context"
	"fmt"

	"github.com/golang/glog"
)

type SessionSettings struct {
	Indent Indent
	Codec  Codec
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		Indent: SpacesIndent(2),
		Codec:  NewJsCodecWithDefaults(),
	}
}

// OpenBufferFunction opens the editing surface with the first rendering of the tree.
type OpenBufferFunction func(text string) (Buffer, error)

// Session connects one buffer to one remote tree.
// All state is owned by the goroutine in `Run`. Buffer changes and transport messages are
// handled one at a time, each to completion, in the order the loop receives them.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	transport Transport
	engine    *Engine

	settings *SessionSettings
}

func NewSessionWithDefaults(ctx context.Context, transport Transport) *Session {
	return NewSession(ctx, transport, DefaultSessionSettings())
}

func NewSession(ctx context.Context, transport Transport, settings *SessionSettings) *Session {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Session{
		ctx:       cancelCtx,
		cancel:    cancel,
		transport: transport,
		settings:  settings,
	}
}

func (self *Session) Close() {
	self.cancel()
}

// Run waits for the root element, opens the buffer and then syncs until the buffer closes,
// the transport closes or the session is closed. The transport is always closed on return.
// There is no timeout on the wait for the root element; use the context for one.
func (self *Session) Run(open OpenBufferFunction) error {
	defer self.cancel()
	defer self.transport.Close()

	root, err := Bootstrap(self.ctx, self.transport)
	if err != nil {
		return err
	}
	glog.V(1).Infof("[s]root %s (%d elements)\n", root.Id, Size(root))

	self.engine = NewEngine(root, self.settings.Codec, self.settings.Indent)
	text, err := self.engine.Render()
	if err != nil {
		return fmt.Errorf("Render root: %w", err)
	}
	buffer, err := open(text)
	if err != nil {
		return fmt.Errorf("Open buffer: %w", err)
	}

	for {
		select {
		case <-self.ctx.Done():
			return nil
		case <-buffer.Done():
			glog.V(1).Infof("[s]buffer closed\n")
			return nil
		case text, ok := <-buffer.Changes():
			if !ok {
				return nil
			}
			if err := HandleError(func() {
				self.handleLocalEdit(text)
			}); err != nil {
				glog.Infof("[s]drop local edit = %s\n", err)
			}
		case message, ok := <-self.transport.Receive():
			if !ok {
				glog.Infof("[s]transport closed\n")
				return ErrClosed
			}
			if err := HandleError(func() {
				self.handleRemoteMessage(buffer, message)
			}); err != nil {
				glog.Infof("[s]drop remote message = %s\n", err)
			}
		}
	}
}

func (self *Session) handleLocalEdit(text string) {
	packets := TraceWithReturn("[s]local edit", func() []Packet {
		return self.engine.LocalEdit(text)
	})
	if len(packets) == 0 {
		return
	}
	self.send(packets)
}

func (self *Session) handleRemoteMessage(buffer Buffer, message []byte) {
	packets, err := DecodeMessage(message)
	if err != nil {
		glog.V(1).Infof("[s]drop message = %s\n", err)
		return
	}
	result := TraceWithReturn("[s]remote message", func() *RemoteResult {
		return self.engine.RemoteMessage(packets)
	})
	if 0 < len(result.Replies) {
		self.send(result.Replies)
	}
	if result.Rerender {
		glog.V(1).Infof("[s]rerender\n")
		var err error
		Trace("[s]replace buffer", func() {
			err = buffer.Replace(result.Text)
		})
		if err != nil {
			glog.Infof("[s]rerender error = %s\n", err)
		}
	}
}

func (self *Session) send(packets []Packet) {
	message, err := EncodeMessage(packets)
	if err != nil {
		glog.Infof("[s]encode error = %s\n", err)
		return
	}
	if err := self.transport.Send(message); err != nil {
		glog.Infof("[s]send error = %s\n", err)
	}
}

// Bootstrap requests the root element and blocks until the remote side sends a root `element.set`.
// Messages that cannot be decoded or carry no root set are discarded.
func Bootstrap(ctx context.Context, transport Transport) (*Node, error) {
	request, err := EncodeMessage([]Packet{NewElementGetPacket(nil)})
	if err != nil {
		return nil, err
	}
	if err := transport.Send(request); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case message, ok := <-transport.Receive():
			if !ok {
				return nil, ErrClosed
			}
			if root := rootFromMessage(message); root != nil {
				return root, nil
			}
		}
	}
}

func rootFromMessage(message []byte) *Node {
	packets, err := DecodeMessage(message)
	if err != nil {
		glog.Infof("[s]bootstrap discard = %s\n", err)
		return nil
	}
	for _, packet := range packets {
		if packet.Message != MessageElementSet {
			continue
		}
		set, err := packet.ElementSet()
		if err != nil || !IsRootTarget(set.TargetId) {
			continue
		}
		root, err := set.Node()
		if err != nil {
			glog.Infof("[s]bootstrap discard root = %s\n", err)
			continue
		}
		return root
	}
	glog.Infof("[s]bootstrap discard message without root\n")
	return nil
}
