package prefs

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// websocket session control messages. Each is a message record (see `buildMessage`)
// whose payload is a record of the fields below.

const (
	authFieldJwt protowire.Number = 1

	authResultFieldPeerId      protowire.Number = 1
	authResultFieldSmallId     protowire.Number = 2
	authResultFieldAuthorityId protowire.Number = 3

	peerLeftFieldPeerId  protowire.Number = 1
	peerLeftFieldSmallId protowire.Number = 2
)

type authResult struct {
	peerId      Id
	smallId     SmallId
	authorityId Id
}

// calls `field` for each field of a record. `field` returns the number of bytes it consumed,
// or a negative protowire error code.
func rangeFields(b []byte, field func(number protowire.Number, wireType protowire.Type, b []byte) int) error {
	for 0 < len(b) {
		number, wireType, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %s", ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]
		m := field(number, wireType, b)
		if m < 0 {
			return fmt.Errorf("%w: %s", ErrMalformedMessage, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeIdField(b []byte, id *Id) int {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	parsedId, err := IdFromBytes(v)
	if err != nil {
		return -1
	}
	*id = parsedId
	return n
}

func consumeSmallIdField(b []byte, smallId *SmallId) int {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n
	}
	if math.MaxUint8 < v {
		return -1
	}
	*smallId = SmallId(v)
	return n
}

func expectTag(message []byte, expectedTag MessageTag) ([]byte, error) {
	tag, payload, err := parseMessage(message)
	if err != nil {
		return nil, err
	}
	if tag != expectedTag {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrMalformedMessage, expectedTag, tag)
	}
	return payload, nil
}

func encodeAuthMessage(jwt string) ([]byte, error) {
	return buildMessage(MessageTagAuth, func(payload []byte) ([]byte, error) {
		payload = protowire.AppendTag(payload, authFieldJwt, protowire.BytesType)
		payload = protowire.AppendString(payload, jwt)
		return payload, nil
	})
}

func decodeAuthMessage(message []byte) (string, error) {
	payload, err := expectTag(message, MessageTagAuth)
	if err != nil {
		return "", err
	}
	var jwt string
	hasJwt := false
	err = rangeFields(payload, func(number protowire.Number, wireType protowire.Type, b []byte) int {
		if number == authFieldJwt && wireType == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			if 0 <= n {
				jwt = v
				hasJwt = true
			}
			return n
		}
		return protowire.ConsumeFieldValue(number, wireType, b)
	})
	if err != nil {
		return "", err
	}
	if !hasJwt {
		return "", fmt.Errorf("%w: missing jwt", ErrMalformedMessage)
	}
	return jwt, nil
}

func encodeAuthResultMessage(result *authResult) ([]byte, error) {
	return buildMessage(MessageTagAuthResult, func(payload []byte) ([]byte, error) {
		payload = protowire.AppendTag(payload, authResultFieldPeerId, protowire.BytesType)
		payload = protowire.AppendBytes(payload, result.peerId.Bytes())
		payload = protowire.AppendTag(payload, authResultFieldSmallId, protowire.VarintType)
		payload = protowire.AppendVarint(payload, uint64(result.smallId))
		payload = protowire.AppendTag(payload, authResultFieldAuthorityId, protowire.BytesType)
		payload = protowire.AppendBytes(payload, result.authorityId.Bytes())
		return payload, nil
	})
}

func decodeAuthResultMessage(message []byte) (*authResult, error) {
	payload, err := expectTag(message, MessageTagAuthResult)
	if err != nil {
		return nil, err
	}
	result := &authResult{}
	hasPeerId := false
	hasAuthorityId := false
	err = rangeFields(payload, func(number protowire.Number, wireType protowire.Type, b []byte) int {
		switch {
		case number == authResultFieldPeerId && wireType == protowire.BytesType:
			hasPeerId = true
			return consumeIdField(b, &result.peerId)
		case number == authResultFieldSmallId && wireType == protowire.VarintType:
			return consumeSmallIdField(b, &result.smallId)
		case number == authResultFieldAuthorityId && wireType == protowire.BytesType:
			hasAuthorityId = true
			return consumeIdField(b, &result.authorityId)
		default:
			return protowire.ConsumeFieldValue(number, wireType, b)
		}
	})
	if err != nil {
		return nil, err
	}
	if !hasPeerId || !hasAuthorityId {
		return nil, fmt.Errorf("%w: incomplete auth result", ErrMalformedMessage)
	}
	return result, nil
}

func encodePeerLeftMessage(peerId Id, smallId SmallId) ([]byte, error) {
	return buildMessage(MessageTagPeerLeft, func(payload []byte) ([]byte, error) {
		payload = protowire.AppendTag(payload, peerLeftFieldPeerId, protowire.BytesType)
		payload = protowire.AppendBytes(payload, peerId.Bytes())
		payload = protowire.AppendTag(payload, peerLeftFieldSmallId, protowire.VarintType)
		payload = protowire.AppendVarint(payload, uint64(smallId))
		return payload, nil
	})
}

func decodePeerLeftMessage(payload []byte) (Id, SmallId, error) {
	var peerId Id
	var smallId SmallId
	hasPeerId := false
	err := rangeFields(payload, func(number protowire.Number, wireType protowire.Type, b []byte) int {
		switch {
		case number == peerLeftFieldPeerId && wireType == protowire.BytesType:
			hasPeerId = true
			return consumeIdField(b, &peerId)
		case number == peerLeftFieldSmallId && wireType == protowire.VarintType:
			return consumeSmallIdField(b, &smallId)
		default:
			return protowire.ConsumeFieldValue(number, wireType, b)
		}
	})
	if err != nil {
		return Id{}, 0, err
	}
	if !hasPeerId {
		return Id{}, 0, fmt.Errorf("%w: missing peer id", ErrMalformedMessage)
	}
	return peerId, smallId, nil
}
