package certexchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientMessageRoundTrip(t *testing.T) {
	cases := map[string]*CertClientMessage{
		"cert request":    {CertRequest: &CertRequest{Request: []byte{0x30, 0x82}}},
		"confirm request": {ConfirmRequest: &ConfirmRequest{CertHash: []byte{1, 2, 3}}},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			decoded, err := UnmarshalClientMessage(msg.Marshal())
			require.NoError(t, err)
			assert.Equal(t, msg, decoded)
		})
	}
}

func TestServerMessageRoundTrip(t *testing.T) {
	codeOne := ErrorCodeCertification
	cases := map[string]*CertServerMessage{
		"cert bundle": {CertBundle: &CertBundle{
			RootCert:   []byte{0x30, 0x01},
			ClientCert: []byte{0x30, 0x02},
		}},
		"confirm true":  {ConfirmResponse: &ConfirmResponse{Response: true}},
		"confirm false": {ConfirmResponse: &ConfirmResponse{Response: false}},
		"error code":    {ErrorCode: &codeOne},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			decoded, err := UnmarshalServerMessage(msg.Marshal())
			require.NoError(t, err)
			assert.Equal(t, msg, decoded)
		})
	}
}

func TestUnmarshalClientMessageSkipsUnknownFields(t *testing.T) {
	// field 9, varint 7: a variant this version does not know
	msg, err := UnmarshalClientMessage([]byte{0x48, 0x07})
	require.NoError(t, err)
	assert.Nil(t, msg.CertRequest)
	assert.Nil(t, msg.ConfirmRequest)
}

func TestUnmarshalRejectsTruncatedInput(t *testing.T) {
	_, err := UnmarshalClientMessage([]byte{0x0a, 0xff})
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = UnmarshalServerMessage([]byte{0x0a, 0xff})
	assert.ErrorIs(t, err, ErrMalformedMessage)
}
