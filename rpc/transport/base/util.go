package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// kMaxFrameBytes bounds a single frame. Restore payloads of one key
// never exceed this, anything larger indicates a corrupt stream.
const kMaxFrameBytes = 512 * 1024 * 1024

// writeFrame writes a frame to the connection with the format:
// - 4 bytes: payload length (uint32, big endian)
// - N bytes: payload
func writeFrame(conn net.Conn, data []byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer
// If the buffer is too small, it will allocate a new temporary buffer for the data
func readFrame(conn net.Conn, buf []byte) ([]byte, error) {
	// Check if buffer is large enough for header
	if buf == nil || len(buf) < 4 {
		buf = make([]byte, 4)
	}

	// Read header
	if _, err := io.ReadFull(conn, buf[:4]); err != nil {
		return nil, err
	}

	contentLength := binary.BigEndian.Uint32(buf[:4])
	if contentLength > kMaxFrameBytes {
		return nil, fmt.Errorf("frame length %d exceeds limit", contentLength)
	}

	// If no data, return empty slice
	if contentLength == 0 {
		return []byte{}, nil
	}

	// Check if buffer is large enough for data
	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}

	// Read data
	if _, err := io.ReadFull(conn, buf[:contentLength]); err != nil {
		return nil, err
	}

	return buf[:contentLength], nil
}
