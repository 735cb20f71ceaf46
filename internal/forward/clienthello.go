package forward

import (
	"encoding/binary"
	"fmt"
)

// sniExtensionType is the TLS extension type for server_name (SNI).
const sniExtensionType = 0x0000

// sniHostNameType is the name-type byte for a host_name entry inside the
// server_name extension's list.
const sniHostNameType = 0x00

// PreCheck reports whether b looks like a complete TLS handshake record
// carrying a ClientHello: a Handshake record (0x16), TLS major version 3,
// a minor version in the 1.0-1.3 range, and an outer record length that
// exactly accounts for the bytes already read.
//
// It is used as the read-loop termination condition: callers read into a
// buffer until PreCheck returns true, then call Parse.
func PreCheck(b []byte) bool {
	if len(b) < 6 {
		return false
	}
	if b[0] != 0x16 {
		return false
	}
	if b[1] != 0x03 {
		return false
	}
	if !(b[2] > 0x00 && b[2] < 0x05) {
		return false
	}

	recordLen := int(binary.BigEndian.Uint16(b[3:5]))
	return recordLen == len(b)-5
}

// Parse extracts the SNI host name from a complete ClientHello record that
// has already passed PreCheck. It is a pure function: no I/O, no
// allocation beyond the returned string.
func Parse(b []byte) (sniHost string, err error) {
	if len(b) < 6 {
		return "", fmt.Errorf("client hello: buffer too short for record header")
	}

	recordLen := int(binary.BigEndian.Uint16(b[3:5]))
	if recordLen != len(b)-5 {
		return "", fmt.Errorf("client hello: outer record length mismatch")
	}

	if len(b) < 10 {
		return "", fmt.Errorf("client hello: buffer too short for handshake header")
	}

	handshakeLen := int(b[6])<<16 | int(b[7])<<8 | int(b[8])
	if handshakeLen != len(b)-9 {
		return "", fmt.Errorf("client hello: handshake body length mismatch")
	}

	if b[9] != 0x03 {
		return "", fmt.Errorf("client hello: unexpected client version major")
	}
	if len(b) < 11 || !(b[10] >= 0x01 && b[10] <= 0x04) {
		return "", fmt.Errorf("client hello: unexpected client version minor")
	}

	// record header (5) + handshake header (4) + client version (2) + random (32)
	pos := 43
	if len(b) < pos {
		return "", fmt.Errorf("client hello: buffer too short past random")
	}

	// session id: 1-byte length prefix
	pos, err = skipVector(b, pos, 1)
	if err != nil {
		return "", fmt.Errorf("client hello: session id: %w", err)
	}

	// cipher suites: 2-byte length prefix
	pos, err = skipVector(b, pos, 2)
	if err != nil {
		return "", fmt.Errorf("client hello: cipher suites: %w", err)
	}

	// compression methods: 1-byte length prefix
	pos, err = skipVector(b, pos, 1)
	if err != nil {
		return "", fmt.Errorf("client hello: compression methods: %w", err)
	}

	if len(b) < pos+2 {
		return "", fmt.Errorf("client hello: buffer too short for extensions length")
	}
	extTotalLen := int(binary.BigEndian.Uint16(b[pos : pos+2]))
	pos += 2

	if len(b) < pos+extTotalLen {
		return "", fmt.Errorf("client hello: extensions length mismatch")
	}
	end := pos + extTotalLen

	for pos+4 <= end {
		extType := binary.BigEndian.Uint16(b[pos : pos+2])
		extLen := int(binary.BigEndian.Uint16(b[pos+2 : pos+4]))
		pos += 4

		if pos+extLen > end {
			return "", fmt.Errorf("client hello: extension data overruns extensions block")
		}
		data := b[pos : pos+extLen]
		pos += extLen

		if extType == sniExtensionType {
			return parseServerNameExtension(data)
		}
	}

	return "", fmt.Errorf("client hello: no server_name extension present")
}

func parseServerNameExtension(data []byte) (string, error) {
	if len(data) < 2 {
		return "", fmt.Errorf("server_name extension: too short for list length")
	}

	listLen := int(binary.BigEndian.Uint16(data[0:2]))
	if listLen != len(data)-2 {
		return "", fmt.Errorf("server_name extension: list length mismatch")
	}

	body := data[2:]
	if len(body) < 3 {
		return "", fmt.Errorf("server_name extension: entry too short")
	}

	nameType := body[0]
	if nameType != sniHostNameType {
		return "", fmt.Errorf("server_name extension: unsupported name type %d", nameType)
	}

	nameLen := int(binary.BigEndian.Uint16(body[1:3]))
	if len(body) < 3+nameLen {
		return "", fmt.Errorf("server_name extension: host name length mismatch")
	}

	return string(body[3 : 3+nameLen]), nil
}

// skipVector advances past a length-prefixed vector whose prefix is
// prefixWidth bytes (1 or 2), returning the position immediately after the
// vector's data.
func skipVector(b []byte, pos, prefixWidth int) (int, error) {
	if len(b) < pos+prefixWidth {
		return 0, fmt.Errorf("buffer too short for length prefix")
	}

	var n int
	if prefixWidth == 1 {
		n = int(b[pos])
	} else {
		n = int(binary.BigEndian.Uint16(b[pos : pos+prefixWidth]))
	}
	pos += prefixWidth

	if len(b) < pos+n {
		return 0, fmt.Errorf("buffer too short for vector data")
	}

	return pos + n, nil
}
