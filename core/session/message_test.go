package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := map[string]*Message{
		"init data": {InitData: &InitData{
			ID:        "server",
			PublicKey: []byte{0x01, 0x02, 0x03},
		}},
		"key confirmation": {KeyConfirmation: &KeyConfirmation{
			Data: []byte{0xaa, 0xbb},
		}},
		"signed data": {SignedData: &SignedData{
			Data:          []byte("payload"),
			HmacSignature: []byte{0xde, 0xad, 0xbe, 0xef},
		}},
	}

	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			decoded, err := UnmarshalMessage(msg.Marshal())
			require.NoError(t, err)
			assert.Equal(t, msg, decoded)
		})
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":           {},
		"random bytes":    {0xff, 0x13, 0x37},
		"truncated":       {0x0a, 0x10, 0x01},
		"unknown field":   {0x22, 0x02, 0x0a, 0x00},
		"wrong wire type": {0x08, 0x01},
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := UnmarshalMessage(b)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestUnmarshalRejectsMultipleVariants(t *testing.T) {
	init := (&Message{InitData: &InitData{ID: "a", PublicKey: []byte{1}}}).Marshal()
	kc := (&Message{KeyConfirmation: &KeyConfirmation{Data: []byte{2}}}).Marshal()

	_, err := UnmarshalMessage(append(init, kc...))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}
