// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// ErrUnknownCommand is returned by a MessageCodec asked to decode a command it
// does not know.
var ErrUnknownCommand = errors.New("unknown command")

// MessageCodec converts between typed messages and frame payloads.  Framing
// itself (magic, command, length and checksum) is handled by the peer.
type MessageCodec interface {
	// Encode returns the payload of msg for the passed protocol version.
	Encode(msg wire.Message, pver uint32) ([]byte, error)

	// Decode returns the message with the passed command decoded from
	// payload.  It returns ErrUnknownCommand for unknown commands.
	Decode(command string, payload []byte, pver uint32) (wire.Message, error)
}

// WireCodec is a MessageCodec built on the btcd wire package.
type WireCodec struct{}

// Encode returns the payload of msg for the passed protocol version.
func (WireCodec) Encode(msg wire.Message, pver uint32) ([]byte, error) {
	var bw bytes.Buffer
	if err := msg.BtcEncode(&bw, pver, wire.LatestEncoding); err != nil {
		return nil, err
	}

	payload := bw.Bytes()
	if len(payload) > wire.MaxMessagePayload {
		return nil, fmt.Errorf("message payload is too large - encoded "+
			"%d bytes, but maximum message payload is %d bytes",
			len(payload), wire.MaxMessagePayload)
	}
	if mpl := msg.MaxPayloadLength(pver); uint32(len(payload)) > mpl {
		return nil, fmt.Errorf("message payload is too large - encoded "+
			"%d bytes, but maximum message payload size for "+
			"messages of type [%s] is %d", len(payload),
			msg.Command(), mpl)
	}
	return payload, nil
}

// Decode returns the message with the passed command decoded from payload.
func (WireCodec) Decode(command string, payload []byte, pver uint32) (wire.Message, error) {
	msg := makeEmptyMessage(command)
	if msg == nil {
		return nil, ErrUnknownCommand
	}

	if mpl := msg.MaxPayloadLength(pver); uint32(len(payload)) > mpl {
		return nil, fmt.Errorf("payload exceeds max length - header "+
			"indicates %d bytes, but max payload size for messages "+
			"of type [%v] is %v", len(payload), command, mpl)
	}

	// MsgVersion insists on a *bytes.Buffer to detect optional fields.
	pr := bytes.NewBuffer(payload)
	if err := msg.BtcDecode(pr, pver, wire.LatestEncoding); err != nil {
		return nil, err
	}
	return msg, nil
}

// makeEmptyMessage returns a message of the type identified by command, or nil
// for commands the peer never decodes.
func makeEmptyMessage(command string) wire.Message {
	switch command {
	case wire.CmdVersion:
		return &wire.MsgVersion{}
	case wire.CmdVerAck:
		return &wire.MsgVerAck{}
	case wire.CmdInv:
		return &wire.MsgInv{}
	case wire.CmdGetData:
		return &wire.MsgGetData{}
	case wire.CmdNotFound:
		return &wire.MsgNotFound{}
	case wire.CmdAddr:
		return &wire.MsgAddr{}
	case wire.CmdHeaders:
		return &wire.MsgHeaders{}
	case wire.CmdBlock:
		return &wire.MsgBlock{}
	case wire.CmdMerkleBlock:
		return &wire.MsgMerkleBlock{}
	case wire.CmdTx:
		return &wire.MsgTx{}
	case wire.CmdPing:
		return &wire.MsgPing{}
	case wire.CmdPong:
		return &wire.MsgPong{}
	case wire.CmdReject:
		return &wire.MsgReject{}
	}
	return nil
}
