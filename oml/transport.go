package oml

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("Transport closed.")

// Transport carries whole messages between the engine and the remote side.
// `Receive` is closed when the connection closes.
// Reconnection and framing belong to the transport, never to the engine.
type Transport interface {
	Send(message []byte) error
	Receive() <-chan []byte
	Close()
}

type WsTransportSettings struct {
	WsHandshakeTimeout time.Duration
	// a ping is written when nothing was written for this long
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	// the connection is dropped when nothing, including a pong, is read for this long
	ReadTimeout       time.Duration
	SendBufferSize    int
	ReceiveBufferSize int
}

func DefaultWsTransportSettings() *WsTransportSettings {
	pingTimeout := 5 * time.Second
	return &WsTransportSettings{
		WsHandshakeTimeout: 5 * time.Second,
		PingTimeout:        pingTimeout,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        4 * pingTimeout,
		SendBufferSize:     16,
		ReceiveBufferSize:  16,
	}
}

// WsTransport is a websocket connection with one goroutine writing and one reading.
// Messages are json text frames.
type WsTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	ws   *websocket.Conn
	tag  string
	send chan []byte
	// closed when the read goroutine exits
	receive chan []byte

	settings *WsTransportSettings
}

func DialWsTransportWithDefaults(ctx context.Context, url string) (*WsTransport, error) {
	return DialWsTransport(ctx, url, DefaultWsTransportSettings())
}

func DialWsTransport(ctx context.Context, url string, settings *WsTransportSettings) (*WsTransport, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWsTransport(ctx, ws, url, settings), nil
}

// NewWsTransport takes ownership of an open connection.
func NewWsTransport(ctx context.Context, ws *websocket.Conn, tag string, settings *WsTransportSettings) *WsTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &WsTransport{
		ctx:      cancelCtx,
		cancel:   cancel,
		ws:       ws,
		tag:      tag,
		send:     make(chan []byte, settings.SendBufferSize),
		receive:  make(chan []byte, settings.ReceiveBufferSize),
		settings: settings,
	}
	go transport.writeLoop()
	go transport.readLoop()
	go transport.closeOnDone()
	return transport
}

func (self *WsTransport) Send(message []byte) error {
	select {
	case <-self.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case <-self.ctx.Done():
		return ErrClosed
	case self.send <- message:
		return nil
	}
}

func (self *WsTransport) Receive() <-chan []byte {
	return self.receive
}

func (self *WsTransport) Done() <-chan struct{} {
	return self.ctx.Done()
}

func (self *WsTransport) Close() {
	self.cancel()
}

func (self *WsTransport) closeOnDone() {
	<-self.ctx.Done()
	// best effort; messages still queued in `send` are dropped
	self.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(self.settings.WriteTimeout),
	)
	self.ws.Close()
}

func (self *WsTransport) writeLoop() {
	defer self.cancel()

	for {
		select {
		case <-self.ctx.Done():
			return
		case message := <-self.send:
			self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := self.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				// note that for websocket a deadline timeout cannot be recovered
				glog.Infof("[ts]%s-> error = %s\n", self.tag, err)
				return
			}
			glog.V(2).Infof("[ts]%s-> %d bytes\n", self.tag, len(message))
		case <-time.After(self.settings.PingTimeout):
			deadline := time.Now().Add(self.settings.WriteTimeout)
			if err := self.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				glog.Infof("[ts]ping %s-> error = %s\n", self.tag, err)
				return
			}
		}
	}
}

func (self *WsTransport) readLoop() {
	defer func() {
		self.cancel()
		close(self.receive)
	}()

	extendReadDeadline := func() {
		self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	}
	extendReadDeadline()
	self.ws.SetPongHandler(func(string) error {
		extendReadDeadline()
		return nil
	})

	for {
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.V(1).Infof("[tr]%s<- closed\n", self.tag)
			} else {
				select {
				case <-self.ctx.Done():
					// closed locally
				default:
					glog.Infof("[tr]%s<- error = %s\n", self.tag, err)
				}
			}
			return
		}
		extendReadDeadline()

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			select {
			case <-self.ctx.Done():
				return
			case self.receive <- message:
				glog.V(2).Infof("[tr]%s<- %d bytes\n", self.tag, len(message))
			}
		default:
			glog.V(2).Infof("[tr]other=%d %s<-\n", messageType, self.tag)
		}
	}
}
