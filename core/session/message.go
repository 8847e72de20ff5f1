package session

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedMessage rejects frames that do not decode to exactly one
// message variant.
var ErrMalformedMessage = errors.New("malformed speke message")

// Wire field numbers of the Message oneof and its variants.
const (
	fieldInitData        = 1
	fieldKeyConfirmation = 2
	fieldSignedData      = 3

	fieldInitID        = 1
	fieldInitPublicKey = 2
	fieldData          = 1
	fieldHmacSignature = 2
)

// InitData opens an exchange: the sender's identifier and SPEKE public
// value.
type InitData struct {
	ID        string
	PublicKey []byte
}

// KeyConfirmation carries a key-confirmation tag.
type KeyConfirmation struct {
	Data []byte
}

// SignedData carries application plaintext with its HMAC tag.
type SignedData struct {
	Data          []byte
	HmacSignature []byte
}

// Message is the tagged frame payload; exactly one variant is set.
type Message struct {
	InitData        *InitData
	KeyConfirmation *KeyConfirmation
	SignedData      *SignedData
}

// Marshal encodes the message in protobuf wire format.
func (m *Message) Marshal() []byte {
	var inner []byte
	var field protowire.Number

	switch {
	case m.InitData != nil:
		field = fieldInitData
		inner = protowire.AppendTag(inner, fieldInitID, protowire.BytesType)
		inner = protowire.AppendString(inner, m.InitData.ID)
		inner = protowire.AppendTag(inner, fieldInitPublicKey, protowire.BytesType)
		inner = protowire.AppendBytes(inner, m.InitData.PublicKey)
	case m.KeyConfirmation != nil:
		field = fieldKeyConfirmation
		inner = protowire.AppendTag(inner, fieldData, protowire.BytesType)
		inner = protowire.AppendBytes(inner, m.KeyConfirmation.Data)
	case m.SignedData != nil:
		field = fieldSignedData
		inner = protowire.AppendTag(inner, fieldData, protowire.BytesType)
		inner = protowire.AppendBytes(inner, m.SignedData.Data)
		inner = protowire.AppendTag(inner, fieldHmacSignature, protowire.BytesType)
		inner = protowire.AppendBytes(inner, m.SignedData.HmacSignature)
	default:
		return nil
	}

	out := protowire.AppendTag(nil, field, protowire.BytesType)
	return protowire.AppendBytes(out, inner)
}

// UnmarshalMessage decodes a frame payload. Unknown fields and frames
// without exactly one variant are rejected.
func UnmarshalMessage(b []byte) (*Message, error) {
	msg := &Message{}
	variants := 0

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag", ErrMalformedMessage)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return nil, fmt.Errorf("%w: unexpected wire type %d", ErrMalformedMessage, typ)
		}
		inner, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: truncated payload", ErrMalformedMessage)
		}
		b = b[n:]

		variants++
		switch num {
		case fieldInitData:
			init, err := unmarshalInitData(inner)
			if err != nil {
				return nil, err
			}
			msg.InitData = init
		case fieldKeyConfirmation:
			data, err := unmarshalSingleBytes(inner, fieldData)
			if err != nil {
				return nil, err
			}
			msg.KeyConfirmation = &KeyConfirmation{Data: data}
		case fieldSignedData:
			signed, err := unmarshalSignedData(inner)
			if err != nil {
				return nil, err
			}
			msg.SignedData = signed
		default:
			return nil, fmt.Errorf("%w: unknown field %d", ErrMalformedMessage, num)
		}
	}

	if variants != 1 {
		return nil, fmt.Errorf("%w: %d variants", ErrMalformedMessage, variants)
	}
	return msg, nil
}

func unmarshalInitData(b []byte) (*InitData, error) {
	init := &InitData{}
	err := consumeFields(b, func(num protowire.Number, val []byte) error {
		switch num {
		case fieldInitID:
			init.ID = string(val)
		case fieldInitPublicKey:
			init.PublicKey = val
		default:
			return fmt.Errorf("%w: unknown init_data field %d", ErrMalformedMessage, num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return init, nil
}

func unmarshalSignedData(b []byte) (*SignedData, error) {
	signed := &SignedData{}
	err := consumeFields(b, func(num protowire.Number, val []byte) error {
		switch num {
		case fieldData:
			signed.Data = val
		case fieldHmacSignature:
			signed.HmacSignature = val
		default:
			return fmt.Errorf("%w: unknown signed_data field %d", ErrMalformedMessage, num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return signed, nil
}

func unmarshalSingleBytes(b []byte, field protowire.Number) ([]byte, error) {
	var out []byte
	err := consumeFields(b, func(num protowire.Number, val []byte) error {
		if num != field {
			return fmt.Errorf("%w: unknown field %d", ErrMalformedMessage, num)
		}
		out = val
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// consumeFields walks length-delimited fields, handing each value to fn.
func consumeFields(b []byte, fn func(num protowire.Number, val []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: bad tag", ErrMalformedMessage)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return fmt.Errorf("%w: unexpected wire type %d", ErrMalformedMessage, typ)
		}
		val, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("%w: truncated field", ErrMalformedMessage)
		}
		b = b[n:]
		if err := fn(num, val); err != nil {
			return err
		}
	}
	return nil
}
