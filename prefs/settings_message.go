package prefs

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformedMessage = errors.New("malformed message")

type MessageTag uint64

const (
	MessageTagServerSettings MessageTag = 1
	MessageTagClientSettings MessageTag = 2

	// websocket session control
	MessageTagAuth       MessageTag = 16
	MessageTagAuthResult MessageTag = 17
	MessageTagPeerLeft   MessageTag = 18
)

func (self MessageTag) String() string {
	switch self {
	case MessageTagServerSettings:
		return "ServerSettings"
	case MessageTagClientSettings:
		return "ClientSettings"
	case MessageTagAuth:
		return "Auth"
	case MessageTagAuthResult:
		return "AuthResult"
	case MessageTagPeerLeft:
		return "PeerLeft"
	default:
		return fmt.Sprintf("MessageTag(%d)", uint64(self))
	}
}

// message record fields
const (
	messageFieldTag     protowire.Number = 1
	messageFieldPayload protowire.Number = 2
)

const messageBufferSize = 1024
const maxPooledMessageBufferSize = 64 * 1024

var messageBufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, messageBufferSize)
		return &b
	},
}

func takeMessageBuffer() *[]byte {
	return messageBufferPool.Get().(*[]byte)
}

func releaseMessageBuffer(buffer *[]byte) {
	if maxPooledMessageBufferSize < cap(*buffer) {
		return
	}
	*buffer = (*buffer)[:0]
	messageBufferPool.Put(buffer)
}

// buildMessage borrows pooled buffers for the payload and the message record,
// returns them on every exit path, and returns an owned copy of the message.
func buildMessage(tag MessageTag, buildPayload func(payload []byte) ([]byte, error)) ([]byte, error) {
	payloadBuffer := takeMessageBuffer()
	defer releaseMessageBuffer(payloadBuffer)

	payload, err := buildPayload((*payloadBuffer)[:0])
	if err != nil {
		return nil, err
	}
	*payloadBuffer = payload

	messageBuffer := takeMessageBuffer()
	defer releaseMessageBuffer(messageBuffer)

	b := (*messageBuffer)[:0]
	b = protowire.AppendTag(b, messageFieldTag, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(tag))
	b = protowire.AppendTag(b, messageFieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	*messageBuffer = b

	return bytes.Clone(b), nil
}

// the payload aliases `message`
func parseMessage(message []byte) (tag MessageTag, payload []byte, err error) {
	hasTag := false
	b := message
	for 0 < len(b) {
		number, wireType, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, nil, fmt.Errorf("%w: %s", ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case number == messageFieldTag && wireType == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, nil, fmt.Errorf("%w: %s", ErrMalformedMessage, protowire.ParseError(n))
			}
			b = b[n:]
			tag = MessageTag(v)
			hasTag = true
		case number == messageFieldPayload && wireType == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, nil, fmt.Errorf("%w: %s", ErrMalformedMessage, protowire.ParseError(n))
			}
			b = b[n:]
			payload = v
		default:
			// unknown fields are skipped
			n := protowire.ConsumeFieldValue(number, wireType, b)
			if n < 0 {
				return 0, nil, fmt.Errorf("%w: %s", ErrMalformedMessage, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !hasTag {
		return 0, nil, fmt.Errorf("%w: missing tag", ErrMalformedMessage)
	}
	return tag, payload, nil
}

type SettingsMessage struct {
	Tag MessageTag
	// the participant the settings describe. Only for `MessageTagClientSettings`.
	SmallId       SmallId
	SnapshotBytes []byte
}

func EncodeServerSettingsMessage(snapshot *Snapshot) ([]byte, error) {
	return buildMessage(MessageTagServerSettings, func(payload []byte) ([]byte, error) {
		return append(payload, snapshot.snapshotBytes...), nil
	})
}

// the payload is prefixed with the small id of the participant the settings describe
func EncodeClientSettingsMessage(smallId SmallId, snapshot *Snapshot) ([]byte, error) {
	return buildMessage(MessageTagClientSettings, func(payload []byte) ([]byte, error) {
		payload = protowire.AppendVarint(payload, uint64(smallId))
		return append(payload, snapshot.snapshotBytes...), nil
	})
}

func DecodeSettingsMessage(message []byte) (*SettingsMessage, error) {
	tag, payload, err := parseMessage(message)
	if err != nil {
		return nil, err
	}
	switch tag {
	case MessageTagServerSettings:
		return &SettingsMessage{
			Tag:           tag,
			SnapshotBytes: payload,
		}, nil
	case MessageTagClientSettings:
		v, n := protowire.ConsumeVarint(payload)
		if n < 0 {
			return nil, fmt.Errorf("%w: missing small id", ErrMalformedMessage)
		}
		if math.MaxUint8 < v {
			return nil, fmt.Errorf("%w: small id %d out of range", ErrMalformedMessage, v)
		}
		return &SettingsMessage{
			Tag:           tag,
			SmallId:       SmallId(v),
			SnapshotBytes: payload[n:],
		}, nil
	default:
		return nil, fmt.Errorf("%w: not a settings message (%s)", ErrMalformedMessage, tag)
	}
}
