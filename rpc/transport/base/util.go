package base

import (
	"encoding/binary"
	"io"
	"net"
)

// writeFrame writes a frame to the connection with the format:
// - 2 bytes: area id length (uint16, big endian)
// - N bytes: area id (utf-8)
// - 8 bytes: requestID (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - M bytes: data payload
func writeFrame(conn net.Conn, area string, requestID uint64, data []byte) error {
	areaBytes := []byte(area)
	header := make([]byte, 2+len(areaBytes)+8+4)
	binary.BigEndian.PutUint16(header[0:2], uint16(len(areaBytes)))
	copy(header[2:2+len(areaBytes)], areaBytes)
	pos := 2 + len(areaBytes)
	binary.BigEndian.PutUint64(header[pos:pos+8], requestID)
	binary.BigEndian.PutUint32(header[pos+8:pos+12], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer.
// If the buffer is too small, it allocates a new temporary buffer for the
// data payload.
func readFrame(conn net.Conn, buf []byte) (area string, requestID uint64, data []byte, err error) {
	var lenPrefix [2]byte
	if _, err = io.ReadFull(conn, lenPrefix[:]); err != nil {
		return "", 0, nil, err
	}
	areaLen := binary.BigEndian.Uint16(lenPrefix[:])

	areaBytes := make([]byte, areaLen)
	if areaLen > 0 {
		if _, err = io.ReadFull(conn, areaBytes); err != nil {
			return "", 0, nil, err
		}
	}
	area = string(areaBytes)

	var rest [12]byte
	if _, err = io.ReadFull(conn, rest[:]); err != nil {
		return "", 0, nil, err
	}
	requestID = binary.BigEndian.Uint64(rest[0:8])
	contentLength := binary.BigEndian.Uint32(rest[8:12])

	if contentLength == 0 {
		return area, requestID, []byte{}, nil
	}

	if buf == nil || len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}

	if _, err = io.ReadFull(conn, buf[:contentLength]); err != nil {
		return "", 0, nil, err
	}

	return area, requestID, buf[:contentLength], nil
}
