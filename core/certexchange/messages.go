package certexchange

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedMessage rejects request or response payloads that do not
// decode.
var ErrMalformedMessage = errors.New("malformed exchange message")

// Error codes carried in CertServerMessage.
const (
	// ErrorCodeCertification reports that a certificate request could not
	// be parsed or certified.
	ErrorCodeCertification uint32 = 1
	// ErrorCodeUnknownRequest reports an unrecognized request variant.
	ErrorCodeUnknownRequest uint32 = 2
)

// Wire field numbers.
const (
	fieldCertRequest     = 1
	fieldConfirmRequest  = 2
	fieldCertBundle      = 1
	fieldConfirmResponse = 2
	fieldErrorCode       = 3

	fieldRequestDER = 1
	fieldCertHash   = 1
	fieldRootCert   = 1
	fieldClientCert = 2
	fieldResponse   = 1
)

// CertRequest asks the server to certify the DER-encoded CSR.
type CertRequest struct {
	Request []byte
}

// ConfirmRequest asks the server whether CertHash matches its root
// certificate.
type ConfirmRequest struct {
	CertHash []byte
}

// CertClientMessage is a request sent over an authenticated session;
// at most one variant is set.
type CertClientMessage struct {
	CertRequest    *CertRequest
	ConfirmRequest *ConfirmRequest
}

// CertBundle carries the DER encodings of the root and the freshly issued
// client certificate.
type CertBundle struct {
	RootCert   []byte
	ClientCert []byte
}

// ConfirmResponse answers a ConfirmRequest.
type ConfirmResponse struct {
	Response bool
}

// CertServerMessage is the response envelope; exactly one variant is set.
type CertServerMessage struct {
	CertBundle      *CertBundle
	ConfirmResponse *ConfirmResponse
	ErrorCode       *uint32
}

// Marshal encodes the request in protobuf wire format.
func (m *CertClientMessage) Marshal() []byte {
	switch {
	case m.CertRequest != nil:
		inner := protowire.AppendTag(nil, fieldRequestDER, protowire.BytesType)
		inner = protowire.AppendBytes(inner, m.CertRequest.Request)
		out := protowire.AppendTag(nil, fieldCertRequest, protowire.BytesType)
		return protowire.AppendBytes(out, inner)
	case m.ConfirmRequest != nil:
		inner := protowire.AppendTag(nil, fieldCertHash, protowire.BytesType)
		inner = protowire.AppendBytes(inner, m.ConfirmRequest.CertHash)
		out := protowire.AppendTag(nil, fieldConfirmRequest, protowire.BytesType)
		return protowire.AppendBytes(out, inner)
	}
	return nil
}

// UnmarshalClientMessage decodes a request. Unknown fields are skipped so
// that a newer client yields an empty message, answered with
// ErrorCodeUnknownRequest, rather than a dropped session.
func UnmarshalClientMessage(b []byte) (*CertClientMessage, error) {
	msg := &CertClientMessage{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag", ErrMalformedMessage)
		}
		b = b[n:]

		switch {
		case num == fieldCertRequest && typ == protowire.BytesType:
			inner, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated cert_request", ErrMalformedMessage)
			}
			b = b[n:]
			der, err := consumeBytesField(inner, fieldRequestDER)
			if err != nil {
				return nil, err
			}
			msg.CertRequest = &CertRequest{Request: der}
		case num == fieldConfirmRequest && typ == protowire.BytesType:
			inner, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated confirm_request", ErrMalformedMessage)
			}
			b = b[n:]
			hash, err := consumeBytesField(inner, fieldCertHash)
			if err != nil {
				return nil, err
			}
			msg.ConfirmRequest = &ConfirmRequest{CertHash: hash}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad field %d", ErrMalformedMessage, num)
			}
			b = b[n:]
		}
	}
	return msg, nil
}

// Marshal encodes the response in protobuf wire format.
func (m *CertServerMessage) Marshal() []byte {
	switch {
	case m.CertBundle != nil:
		inner := protowire.AppendTag(nil, fieldRootCert, protowire.BytesType)
		inner = protowire.AppendBytes(inner, m.CertBundle.RootCert)
		inner = protowire.AppendTag(inner, fieldClientCert, protowire.BytesType)
		inner = protowire.AppendBytes(inner, m.CertBundle.ClientCert)
		out := protowire.AppendTag(nil, fieldCertBundle, protowire.BytesType)
		return protowire.AppendBytes(out, inner)
	case m.ConfirmResponse != nil:
		var inner []byte
		inner = protowire.AppendTag(inner, fieldResponse, protowire.VarintType)
		if m.ConfirmResponse.Response {
			inner = protowire.AppendVarint(inner, 1)
		} else {
			inner = protowire.AppendVarint(inner, 0)
		}
		out := protowire.AppendTag(nil, fieldConfirmResponse, protowire.BytesType)
		return protowire.AppendBytes(out, inner)
	case m.ErrorCode != nil:
		out := protowire.AppendTag(nil, fieldErrorCode, protowire.VarintType)
		return protowire.AppendVarint(out, uint64(*m.ErrorCode))
	}
	return nil
}

// UnmarshalServerMessage decodes a response envelope.
func UnmarshalServerMessage(b []byte) (*CertServerMessage, error) {
	msg := &CertServerMessage{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag", ErrMalformedMessage)
		}
		b = b[n:]

		switch {
		case num == fieldCertBundle && typ == protowire.BytesType:
			inner, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated cert_bundle", ErrMalformedMessage)
			}
			b = b[n:]
			bundle := &CertBundle{}
			err := eachBytesField(inner, func(num protowire.Number, val []byte) error {
				switch num {
				case fieldRootCert:
					bundle.RootCert = val
				case fieldClientCert:
					bundle.ClientCert = val
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			msg.CertBundle = bundle
		case num == fieldConfirmResponse && typ == protowire.BytesType:
			inner, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated confirm_response", ErrMalformedMessage)
			}
			b = b[n:]
			resp := &ConfirmResponse{}
			for len(inner) > 0 {
				num, typ, n := protowire.ConsumeTag(inner)
				if n < 0 || typ != protowire.VarintType || num != fieldResponse {
					return nil, fmt.Errorf("%w: bad confirm_response", ErrMalformedMessage)
				}
				inner = inner[n:]
				v, n := protowire.ConsumeVarint(inner)
				if n < 0 {
					return nil, fmt.Errorf("%w: bad confirm_response", ErrMalformedMessage)
				}
				inner = inner[n:]
				resp.Response = v != 0
			}
			msg.ConfirmResponse = resp
		case num == fieldErrorCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad error_code", ErrMalformedMessage)
			}
			b = b[n:]
			code := uint32(v)
			msg.ErrorCode = &code
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad field %d", ErrMalformedMessage, num)
			}
			b = b[n:]
		}
	}
	return msg, nil
}

func consumeBytesField(b []byte, field protowire.Number) ([]byte, error) {
	var out []byte
	err := eachBytesField(b, func(num protowire.Number, val []byte) error {
		if num == field {
			out = val
		}
		return nil
	})
	return out, err
}

func eachBytesField(b []byte, fn func(num protowire.Number, val []byte) error) error {
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
