package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the encoded Message. Signed fields use zigzag varints so
// the None sentinel stays one byte long.
const (
	fieldKind      protowire.Number = 1
	fieldChannel   protowire.Number = 2
	fieldFrom      protowire.Number = 3
	fieldKey       protowire.Number = 4
	fieldBlock     protowire.Number = 5
	fieldTarget    protowire.Number = 6
	fieldMode      protowire.Number = 7
	fieldValues    protowire.Number = 8
	fieldRequestID protowire.Number = 9
)

// ErrMalformed is returned when a payload cannot be decoded into a Message.
var ErrMalformed = errors.New("malformed message")

// Encode converts a Message into its protobuf wire representation.
func Encode(m Message) []byte {
	b := make([]byte, 0, 32+len(m.Values)*3+len(m.RequestID))
	b = appendUvarint(b, fieldKind, uint64(m.Kind))
	b = appendUvarint(b, fieldChannel, uint64(m.Channel))
	b = appendSvarint(b, fieldFrom, int64(m.From))
	b = appendSvarint(b, fieldKey, int64(m.Key))
	b = appendSvarint(b, fieldBlock, int64(m.Block))
	b = appendSvarint(b, fieldTarget, m.Target)
	b = appendUvarint(b, fieldMode, uint64(m.Mode))
	if len(m.Values) > 0 {
		var packed []byte
		for _, v := range m.Values {
			packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(v))
		}
		b = protowire.AppendTag(b, fieldValues, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if m.RequestID != "" {
		b = protowire.AppendTag(b, fieldRequestID, protowire.BytesType)
		b = protowire.AppendString(b, m.RequestID)
	}
	return b
}

// Decode parses a payload produced by Encode. Unknown fields are skipped.
func Decode(b []byte) (Message, error) {
	var m Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldValues && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: values: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			for len(packed) > 0 {
				v, vn := protowire.ConsumeVarint(packed)
				if vn < 0 {
					return Message{}, fmt.Errorf("%w: value: %v", ErrMalformed, protowire.ParseError(vn))
				}
				packed = packed[vn:]
				m.Values = append(m.Values, protowire.DecodeZigZag(v))
			}
		case num == fieldRequestID && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: request id: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			m.RequestID = s
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			setScalar(&m, num, v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !m.Kind.Valid() {
		return Message{}, fmt.Errorf("%w: unknown kind %d", ErrMalformed, uint8(m.Kind))
	}
	return m, nil
}

func setScalar(m *Message, num protowire.Number, v uint64) {
	switch num {
	case fieldKind:
		m.Kind = Kind(v)
	case fieldChannel:
		m.Channel = Channel(v)
	case fieldFrom:
		m.From = int(protowire.DecodeZigZag(v))
	case fieldKey:
		m.Key = int(protowire.DecodeZigZag(v))
	case fieldBlock:
		m.Block = int(protowire.DecodeZigZag(v))
	case fieldTarget:
		m.Target = protowire.DecodeZigZag(v)
	case fieldMode:
		m.Mode = Mode(v)
	case fieldValues:
		// unpacked repeated encoding
		m.Values = append(m.Values, protowire.DecodeZigZag(v))
	}
}

func appendUvarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSvarint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}
