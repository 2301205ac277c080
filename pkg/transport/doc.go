// Package transport moves newline-delimited JSON-RPC 2.0 messages between a
// server and its clients over HTTP.
//
// Outbound traffic is broadcast: GET / opens a chunked response that receives
// one JSON document per line, starting with a connection acknowledgement
// carrying the client id. Every message passed to Send is written to every
// open stream.
//
// Inbound traffic arrives as POST / bodies. A POST that names a connection
// (X-Connection-Id header or clientId query parameter) continues that
// connection's frame buffer, so a message may span several requests. A POST
// without one is framed on its own.
//
// A body whose Content-Length exceeds the body limit is rejected with 413
// before any of it is read. A chunked body is framed as it streams, so lines
// before the limit is reached have already been delivered when the 413 is
// sent.
//
// GET /ws carries both directions over a single WebSocket.
package transport
