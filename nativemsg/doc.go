// Package nativemsg implements the browser native messaging framing used on
// the bridge's standard input and output.
//
// Every message is a 4-byte unsigned length in native byte order followed by
// exactly that many bytes of UTF-8 encoded JSON:
//
//	+----------------+------------------------------+
//	| uint32 (host)  | JSON payload (length bytes)  |
//	+----------------+------------------------------+
//
// The browser rejects host-to-extension messages larger than 1 MiB, so
// Encode produces the most compact JSON representation and refuses payloads
// above MaxMessageSize. Messages in the other direction are accepted up to
// MaxRequestSize.
//
// A Reader reports a clean end of input (the peer closed the stream between
// frames) as io.EOF. Any other error is a protocol error after which the
// stream cannot be resynchronised.
//
// Example:
//
//	r := nativemsg.NewReader(os.Stdin)
//	w := nativemsg.NewWriter(os.Stdout)
//	for {
//	    msg, err := r.ReadMessage()
//	    if errors.Is(err, io.EOF) { return nil }
//	    if err != nil { return err }
//	    if err := w.WriteMessage(reply(msg)); err != nil { return err }
//	}
package nativemsg
