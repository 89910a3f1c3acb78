package rpc

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/fortiblox/bytevm/pkg/program"
	"github.com/mr-tron/base58"
)

// EncodeCode encodes bytecode according to the specified encoding.
func EncodeCode(data []byte, encoding Encoding) (string, error) {
	switch encoding {
	case EncodingBase58:
		return base58.Encode(data), nil

	case EncodingBase64Zstd:
		compressed, err := program.Compress(data)
		if err != nil {
			return "", fmt.Errorf("zstd compression failed: %w", err)
		}
		return base64.StdEncoding.EncodeToString(compressed), nil

	case EncodingHex:
		return hex.EncodeToString(data), nil

	default:
		return base64.StdEncoding.EncodeToString(data), nil
	}
}

// DecodeCode decodes bytecode from the specified encoding.
func DecodeCode(encoded string, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingBase58:
		return base58.Decode(encoded)

	case EncodingBase64Zstd:
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		return program.Decompress(compressed)

	case EncodingHex:
		return hex.DecodeString(encoded)

	default:
		return base64.StdEncoding.DecodeString(encoded)
	}
}

// ParseEncoding parses an encoding name. The empty string selects base64.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "":
		return EncodingBase64, nil
	case EncodingBase58, EncodingBase64, EncodingBase64Zstd, EncodingHex:
		return Encoding(s), nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", s)
	}
}

// EncodeBase64 encodes bytes to base64.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes a base64 string to bytes.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
