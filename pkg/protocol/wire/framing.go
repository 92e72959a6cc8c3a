package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
)

// DefaultMaxMessageSize bounds a single frame's body, guarding against a
// corrupt or hostile length prefix forcing an unbounded allocation.
// Overridable per connection via NewDecoder's maxSize argument.
const DefaultMaxMessageSize = 16 * 1024 * 1024

var validate = validator.New(validator.WithRequiredStructEnabled())

// Frame is one decoded envelope: its Type plus the still-encoded JSON
// body, which the caller unmarshals into the concrete struct Type
// implies.
type Frame struct {
	Type Type
	Body []byte
}

// Encoder writes frames as [4-byte big-endian length][1-byte type][JSON
// body] onto an underlying writer.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w for frame writing. w is used directly; callers that
// want buffering should pass a *bufio.Writer and Flush it themselves.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals body to JSON and writes a complete frame. Safe to call
// with a nil body (e.g. GET_ROOT, which carries none).
func (e *Encoder) Encode(t Type, body any) error {
	var payload []byte
	var err error
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("wire: encode %s: %w", t, err)
		}
	}

	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)+1))
	header[4] = byte(t)

	if _, err := e.w.Write(header); err != nil {
		return fmt.Errorf("wire: write header for %s: %w", t, err)
	}
	if len(payload) > 0 {
		if _, err := e.w.Write(payload); err != nil {
			return fmt.Errorf("wire: write body for %s: %w", t, err)
		}
	}
	return nil
}

// Decoder reads frames off an underlying reader, rejecting any frame
// whose declared length exceeds maxSize.
type Decoder struct {
	r       *bufio.Reader
	maxSize uint32
}

// NewDecoder wraps r with the given maximum frame size. A maxSize of 0
// uses DefaultMaxMessageSize.
func NewDecoder(r io.Reader, maxSize uint32) *Decoder {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Decoder{r: bufio.NewReader(r), maxSize: maxSize}
}

// Decode reads the next frame. Returns io.EOF when the connection closes
// cleanly between frames.
func (d *Decoder) Decode() (Frame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(d.r, header); err != nil {
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(header[0:4])
	if length == 0 {
		return Frame{}, fmt.Errorf("wire: zero-length frame")
	}
	if length > d.maxSize {
		return Frame{}, fmt.Errorf("wire: frame of %d bytes exceeds max message size %d", length, d.maxSize)
	}

	body := make([]byte, length-1)
	if len(body) > 0 {
		if _, err := io.ReadFull(d.r, body); err != nil {
			return Frame{}, fmt.Errorf("wire: read body: %w", err)
		}
	}
	return Frame{Type: Type(header[4]), Body: body}, nil
}

// Unmarshal decodes f.Body into v (a pointer to one of the envelope
// structs in messages.go) and runs struct-tag validation over it.
func Unmarshal(f Frame, v any) error {
	if len(f.Body) > 0 {
		if err := json.Unmarshal(f.Body, v); err != nil {
			return fmt.Errorf("wire: decode %s body: %w", f.Type, err)
		}
	}
	if err := validate.Struct(v); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); ok {
			// v is not a non-nil struct pointer, so there is nothing
			// to validate.
			return nil
		}
		return fmt.Errorf("wire: %s failed validation: %w", f.Type, err)
	}
	return nil
}
