package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownMessage is returned for an envelope whose tag is not in the decode table
var ErrUnknownMessage = errors.New("unknown message type")

// Binary frame kinds
const (
	FrameWorld   byte = 1
	FramePlayers byte = 2
)

const (
	frameFlagLZ4   byte = 1 << 0
	frameHeaderLen      = 2
)

// EncodeMessage marshals an outbound message into its envelope
func EncodeMessage(msg Outbound) ([]byte, error) {
	data, err := json.Marshal(Envelope{T: msg.Tag(), Data: msg})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Tag(), err)
	}
	return data, nil
}

// EncodeInbound marshals a client message; used by bots and tests
func EncodeInbound(msg Inbound) ([]byte, error) {
	data, err := json.Marshal(Envelope{T: msg.Tag(), Data: msg})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Tag(), err)
	}
	return data, nil
}

// DecodeInbound parses a client envelope into its concrete message
func DecodeInbound(raw []byte) (Inbound, error) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	ctor, ok := inboundTypes[env.T]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.T)
	}
	msg := ctor()
	if err := decodePayload(env.D, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.T, err)
	}
	return msg, nil
}

// DecodeOutbound parses a server envelope; used by bots and tests
func DecodeOutbound(raw []byte) (Outbound, error) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	ctor, ok := outboundTypes[env.T]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.T)
	}
	msg := ctor()
	if err := decodePayload(env.D, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.T, err)
	}
	return msg, nil
}

func decodePayload(d json.RawMessage, v interface{}) error {
	if len(d) == 0 || string(d) == "null" {
		return nil
	}
	return json.Unmarshal(d, v)
}

// EncodeFrame builds a binary frame: [kind][flags][msgpack payload].
// Payloads larger than threshold are lz4-compressed; threshold <= 0 disables it.
func EncodeFrame(kind byte, v interface{}, threshold int) ([]byte, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", kind, err)
	}
	var flags byte
	if threshold > 0 && len(payload) > threshold {
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("frame %d compress: %w", kind, err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("frame %d compress: %w", kind, err)
		}
		payload = buf.Bytes()
		flags |= frameFlagLZ4
	}
	out := make([]byte, frameHeaderLen+len(payload))
	out[0] = kind
	out[1] = flags
	copy(out[frameHeaderLen:], payload)
	return out, nil
}

// DecodeFrame splits a binary frame and unpacks its payload into the message
// type for its kind.
func DecodeFrame(frame []byte) (Outbound, error) {
	if len(frame) < frameHeaderLen {
		return nil, fmt.Errorf("short frame: %d bytes", len(frame))
	}
	kind, flags, payload := frame[0], frame[1], frame[frameHeaderLen:]
	if flags&frameFlagLZ4 != 0 {
		raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, fmt.Errorf("frame %d decompress: %w", kind, err)
		}
		payload = raw
	}
	switch kind {
	case FrameWorld:
		var msg InitialWorldStateMsg
		if err := msgpack.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("frame %d: %w", kind, err)
		}
		return &msg, nil
	case FramePlayers:
		var msg InitialPlayerStatesMsg
		if err := msgpack.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("frame %d: %w", kind, err)
		}
		return &msg, nil
	}
	return nil, fmt.Errorf("unknown frame kind %d", kind)
}
