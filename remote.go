package substrate

import (
	"fmt"
	"sync"

	"github.com/fasthttp/websocket"
	fiber "github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
)

// remoteClientEndpoint is the dial side of a between-host channel: it
// encodes a batch with Codec[T] and writes it as a single WebSocket
// binary message, the generalization of the teacher's
// fasthttp/websocket.DefaultDialer.Dial client half of
// Test_Pipe_Websocket (builder_test.go) from a test harness into a real
// Endpoint[T].
type remoteClientEndpoint[T any] struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	codec Codec[T]
}

// DialRemote dials url and wires the resulting connection as the sender
// endpoint for re, so End.Setup (end.go) resolves it exactly like any
// local endpoint - the network layer is endpoint-agnostic by design.
func DialRemote[T any](net *Network, re ReceiverEndpoint, url string, codec Codec[T]) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("substrate: dial remote %s: %w", url, err)
	}
	wireRemote[T](net, re, &remoteClientEndpoint[T]{conn: conn, codec: codec})
	return nil
}

func (e *remoteClientEndpoint[T]) Send(batch []StreamElement[T]) error {
	data, err := e.codec.Encode(batch)
	if err != nil {
		return &Error{Kind: KindSerializationError, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (e *remoteClientEndpoint[T]) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return e.conn.Close()
}

// RemoteServer hosts one fiber.App upgrading inbound WebSocket connections
// into the receive side of remote endpoints - the server half of the same
// pairing the client dials into: gofiber/websocket/v2 upgrades the request
// the same way pipe.go's StreamHTTP hosts a POST route on a *fiber.App,
// substituting a WebSocket route for the POST route.
type RemoteServer struct {
	app *fiber.App
}

// ListenRemote builds a RemoteServer backed by a fresh fiber.App. Callers
// register every local ReceiverEndpoint they expect remote senders to
// reach with RegisterRemoteReceiver before calling Listen, mirroring the
// teacher's pipe.go pattern of registering every route before the single
// blocking Listen.
func ListenRemote() *RemoteServer {
	return &RemoteServer{app: fiber.New()}
}

// RegisterRemoteReceiver exposes re's receive side at path over WebSocket:
// every decoded batch is forwarded onto the local Endpoint[T] wireLocal
// already created for re (the same one End.Setup/Start.Setup resolve), so
// remote delivery reuses the exact per-sender-FIFO receiver channel the
// local network path does. Must be called, for every remote-reachable re,
// after wireLocal has created re's local endpoint and before Listen.
func RegisterRemoteReceiver[T any](s *RemoteServer, path string, net *Network, re ReceiverEndpoint, codec Codec[T]) error {
	ep, ok := endpointFor[T](net, re)
	if !ok {
		return fmt.Errorf("substrate: no local endpoint wired for %s before remote registration", re)
	}

	s.app.Get(path, fiberws.New(func(c *fiberws.Conn) {
		defer c.Close()
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			batch, err := codec.Decode(data)
			if err != nil {
				return
			}
			if err := ep.Send(batch); err != nil {
				return
			}
		}
	}))
	return nil
}

// Listen blocks serving every route registered so far, the remote-endpoint
// counterpart to Environment.Execute blocking on replica goroutines.
func (s *RemoteServer) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown tears down the server's fiber.App. Environment.Execute does not
// call it, so the listener stays up until the caller shuts it down.
func (s *RemoteServer) Shutdown() error {
	return s.app.Shutdown()
}
