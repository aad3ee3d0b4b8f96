package nativemsg

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// HeaderSize is the size of the length prefix in bytes.
const HeaderSize = 4

// MaxMessageSize is the largest payload the browser accepts from a native
// messaging host (1 MiB).
const MaxMessageSize = 1024 * 1024

// MaxRequestSize bounds the payload of incoming frames (64 MiB, the browser's
// own limit for extension-to-host messages).
const MaxRequestSize = 64 * 1024 * 1024

var (
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	ErrInvalidUTF8     = errors.New("payload is not valid UTF-8")
	ErrInvalidJSON     = errors.New("payload is not valid JSON")
	ErrTrailingData    = errors.New("data after declared frame length")
)

// Reader decodes framed messages from an input stream.
type Reader struct {
	r   io.Reader
	max uint32
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, max: MaxRequestSize}
}

// ReadMessage blocks until one complete frame has been read and returns its
// JSON payload. It never consumes bytes beyond the declared frame boundary.
//
// io.EOF is returned only when the stream ends before the first byte of a
// length prefix. A stream ending inside a frame yields io.ErrUnexpectedEOF.
func (r *Reader) ReadMessage() (json.RawMessage, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	length := binary.NativeEndian.Uint32(header[:])
	if length > r.max {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrMessageTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read payload of %d bytes: %w", length, err)
	}

	if !utf8.Valid(payload) {
		return nil, ErrInvalidUTF8
	}
	if !json.Valid(payload) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(payload), nil
}

// Encode serializes v as compact JSON and prepends the native-endian length
// prefix. It fails with ErrMessageTooLarge when the payload exceeds
// MaxMessageSize.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(make([]byte, HeaderSize))

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	// json.Encoder terminates every value with a newline.
	frame := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	size := len(frame) - HeaderSize
	if size > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}
	binary.NativeEndian.PutUint32(frame[:HeaderSize], uint32(size))
	return frame, nil
}

// Decode parses a single complete frame as produced by Encode. Bytes beyond
// the declared length are an error.
func Decode(frame []byte) (json.RawMessage, error) {
	src := bytes.NewReader(frame)
	r := NewReader(src)
	r.max = ^uint32(0)
	raw, err := r.ReadMessage()
	if err != nil {
		return nil, err
	}
	if n := src.Len(); n != 0 {
		return nil, fmt.Errorf("%w: %d extra bytes", ErrTrailingData, n)
	}
	return raw, nil
}

type flusher interface{ Flush() error }

// Writer emits framed messages to an output stream. A Writer is not safe for
// concurrent use; callers serialize access.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer producing frames on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes an encoded frame (length and content) in a single write
// and flushes w if it buffers.
func (w *Writer) WriteFrame(frame []byte) error {
	if len(frame) < HeaderSize {
		return fmt.Errorf("short frame: %d bytes", len(frame))
	}
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if f, ok := w.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush frame: %w", err)
		}
	}
	return nil
}

// WriteMessage encodes v and writes the resulting frame.
func (w *Writer) WriteMessage(v any) error {
	frame, err := Encode(v)
	if err != nil {
		return err
	}
	return w.WriteFrame(frame)
}
