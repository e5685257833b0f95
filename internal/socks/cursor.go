package socks

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// maxCString bounds a NUL-terminated SOCKS4 field, excluding the NUL.
const maxCString = 255

// errShort means the buffer ended inside the message.
var errShort = errors.New("short buffer")

// cursor reads big-endian fields from a byte slice.
type cursor struct {
	b   []byte
	off int
}

func (c *cursor) u8() (byte, error) {
	if c.off >= len(c.b) {
		return 0, errShort
	}
	v := c.b[c.off]
	c.off++
	return v, nil
}

func (c *cursor) u16() (uint16, error) {
	p, err := c.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

// next returns the following n bytes. The result aliases the buffer.
func (c *cursor) next(n int) ([]byte, error) {
	if len(c.b)-c.off < n {
		return nil, errShort
	}
	p := c.b[c.off : c.off+n]
	c.off += n
	return p, nil
}

// cstring returns a NUL-terminated string without its terminator.
func (c *cursor) cstring() (string, error) {
	rest := c.b[c.off:]
	i := bytes.IndexByte(rest, 0)
	switch {
	case i > maxCString, i < 0 && len(rest) > maxCString:
		return "", fmt.Errorf("string exceeds %d bytes", maxCString)
	case i < 0:
		return "", errShort
	}
	c.off += i + 1
	return string(rest[:i]), nil
}

// decode runs fn over b. A short buffer yields NeedMoreData, any other error
// a *MalformedError naming msg. On success it also returns the number of
// bytes consumed.
func decode(b []byte, msg string, fn func(*cursor) (Event, error)) (Event, int, error) {
	c := cursor{b: b}
	ev, err := fn(&c)
	switch {
	case errors.Is(err, errShort):
		return NeedMoreData{}, 0, nil
	case err != nil:
		// A field that fails validation makes the bytes malformed; the
		// cause must not also match ErrInvalid.
		var ve *ValidationError
		if errors.As(err, &ve) {
			err = fmt.Errorf("%s: %s", ve.Field, ve.Reason)
		}
		return nil, 0, &MalformedError{Message: msg, Err: err}
	}
	return ev, c.off, nil
}
