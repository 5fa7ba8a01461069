package packet

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformed = errors.New("malformed payload")

const (
	frameHeaderLen = 5
	trailerFlag    = 0x80
	compressedFlag = 0x01
)

type Frame struct {
	Trailer bool
	Data    []byte
}

// IsGRPCWeb reports whether contentType is one of the gRPC-Web encodings.
func IsGRPCWeb(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "application/grpc-web")
}

// Frames splits a gRPC-Web body into its length-prefixed frames. The
// grpc-web-text variant is base64 decoded first.
func Frames(contentType string, body []byte) ([]Frame, error) {
	if strings.HasPrefix(strings.ToLower(contentType), "application/grpc-web-text") {
		decoded, err := decodeText(body)
		if err != nil {
			return nil, err
		}
		body = decoded
	}

	var frames []Frame
	for len(body) > 0 {
		if len(body) < frameHeaderLen {
			return nil, fmt.Errorf("%w: truncated frame header", ErrMalformed)
		}
		flag := body[0]
		size := binary.BigEndian.Uint32(body[1:frameHeaderLen])
		if uint64(size) > uint64(len(body)-frameHeaderLen) {
			return nil, fmt.Errorf("%w: frame of %d bytes exceeds body", ErrMalformed, size)
		}
		if flag&compressedFlag != 0 {
			return nil, fmt.Errorf("%w: compressed frames are not supported", ErrMalformed)
		}
		frames = append(frames, Frame{
			Trailer: flag&trailerFlag != 0,
			Data:    body[frameHeaderLen : frameHeaderLen+int(size)],
		})
		body = body[frameHeaderLen+int(size):]
	}
	return frames, nil
}

// Message returns the first data frame of a unary response.
func Message(contentType string, body []byte) ([]byte, error) {
	frames, err := Frames(contentType, body)
	if err != nil {
		return nil, err
	}
	for _, f := range frames {
		if !f.Trailer {
			return f.Data, nil
		}
	}
	return nil, fmt.Errorf("%w: no data frame", ErrMalformed)
}

// Wrap builds a single data frame around msg.
func Wrap(msg []byte) []byte {
	buf := make([]byte, frameHeaderLen+len(msg))
	binary.BigEndian.PutUint32(buf[1:frameHeaderLen], uint32(len(msg)))
	copy(buf[frameHeaderLen:], msg)
	return buf
}

// decodeText decodes a grpc-web-text body. Servers may encode every frame
// separately, so the body can hold several padded base64 chunks.
func decodeText(body []byte) ([]byte, error) {
	text := strings.Join(strings.Fields(string(body)), "")
	var out []byte
	for len(text) > 0 {
		end := len(text)
		if i := strings.IndexByte(text, '='); i >= 0 {
			end = i
			for end < len(text) && text[end] == '=' {
				end++
			}
		}
		enc := base64.StdEncoding
		if !strings.HasSuffix(text[:end], "=") && end%4 != 0 {
			enc = base64.RawStdEncoding
		}
		chunk, err := enc.DecodeString(text[:end])
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
		}
		out = append(out, chunk...)
		text = text[end:]
	}
	return out, nil
}
