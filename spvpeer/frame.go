// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// frameHeader is the fixed size header preceding every message payload.
type frameHeader struct {
	magic    wire.BitcoinNet
	command  string
	length   uint32
	checksum [4]byte
}

// checksum returns the first four bytes of the double SHA-256 of payload.
func checksum(payload []byte) [4]byte {
	var sum [4]byte
	copy(sum[:], chainhash.DoubleHashB(payload)[:4])
	return sum
}

// parseCommand extracts the command name from its NUL padded field.  The name
// must be printable ASCII and everything after it must be padding.
func parseCommand(field []byte) (string, error) {
	end := bytes.IndexByte(field, 0)
	if end == -1 {
		end = len(field)
	}
	if end == 0 {
		return "", fmt.Errorf("empty command")
	}
	for _, c := range field[end:] {
		if c != 0 {
			return "", fmt.Errorf("command %q is not NUL padded", field)
		}
	}
	for _, c := range field[:end] {
		if c < 0x20 || c > 0x7e {
			return "", fmt.Errorf("command %q contains invalid "+
				"characters", field[:end])
		}
	}
	return string(field[:end]), nil
}

// readFrameHeader reads and validates a frame header.
func readFrameHeader(r io.Reader, btcnet wire.BitcoinNet) (int, *frameHeader, error) {
	var buf [wire.MessageHeaderSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return n, nil, connectionError("read failed", err)
	}

	hdr := &frameHeader{
		magic:  wire.BitcoinNet(binary.LittleEndian.Uint32(buf[0:4])),
		length: binary.LittleEndian.Uint32(buf[4+wire.CommandSize:]),
	}
	copy(hdr.checksum[:], buf[8+wire.CommandSize:])

	if hdr.magic != btcnet {
		str := fmt.Sprintf("message from other network [%v]", hdr.magic)
		return n, nil, protocolError(str, nil)
	}
	hdr.command, err = parseCommand(buf[4 : 4+wire.CommandSize])
	if err != nil {
		return n, nil, protocolError("invalid command", err)
	}
	if hdr.length > wire.MaxMessagePayload {
		str := fmt.Sprintf("message payload is too large - header "+
			"indicates %d bytes, but max message payload is %d "+
			"bytes", hdr.length, wire.MaxMessagePayload)
		return n, nil, protocolError(str, nil)
	}
	return n, hdr, nil
}

// readFrame reads a complete frame and returns its command and verified
// payload along with the number of bytes read.
func readFrame(r io.Reader, btcnet wire.BitcoinNet) (int, string, []byte, error) {
	n, hdr, err := readFrameHeader(r, btcnet)
	if err != nil {
		return n, "", nil, err
	}

	payload := make([]byte, hdr.length)
	read, err := io.ReadFull(r, payload)
	n += read
	if err != nil {
		return n, "", nil, connectionError("read failed", err)
	}

	if sum := checksum(payload); sum != hdr.checksum {
		str := fmt.Sprintf("payload checksum failed - header indicates "+
			"%x, but actual checksum is %x", hdr.checksum, sum)
		return n, "", nil, protocolError(str, nil)
	}
	return n, hdr.command, payload, nil
}

// encodeFrame returns the complete frame for command and payload.
func encodeFrame(btcnet wire.BitcoinNet, command string, payload []byte) ([]byte, error) {
	if len(command) > wire.CommandSize {
		return nil, fmt.Errorf("command [%s] is too long [max %v]",
			command, wire.CommandSize)
	}

	frame := make([]byte, wire.MessageHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(btcnet))
	copy(frame[4:4+wire.CommandSize], command)
	binary.LittleEndian.PutUint32(frame[4+wire.CommandSize:],
		uint32(len(payload)))
	sum := checksum(payload)
	copy(frame[8+wire.CommandSize:wire.MessageHeaderSize], sum[:])
	copy(frame[wire.MessageHeaderSize:], payload)
	return frame, nil
}
