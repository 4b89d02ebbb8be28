// Package socketserver implements the WebSocket transport of diffbridge.
//
// The server accepts connections from the editor plugin and from the
// assistant on one loopback endpoint and hands every text frame to a
// Handler, which in production is the bridge session.
//
// # Architecture
//
//   - Server: binds the listener, routes HTTP requests with httprouter and
//     upgrades WebSocket requests
//   - Hub: tracks live peers so shutdown can close them
//   - Peer: one WebSocket connection with a read pump and a write pump
//
// # Routes
//
//	GET /        WebSocket upgrade
//	GET /ws      WebSocket upgrade
//	GET /status  session diagnostics as JSON
//
// Extra routes, such as the profiling endpoints, can be mounted on Router()
// before Listen.
//
// # Message Flow
//
// The read pump forwards each text frame unchanged to Handler.HandleMessage
// and calls Handler.HandleClose exactly once when the connection ends. The
// write pump drains the peer's send queue and keeps the connection alive
// with control pings; a peer that stops answering them is dropped once the
// pong wait expires.
//
// Peer.Send never blocks. It fails with ErrPeerClosed after Close and with
// ErrSendBufferFull when the write pump cannot keep up.
package socketserver
