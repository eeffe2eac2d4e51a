package util

import (
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the NFKC form of s so that visually identical
// passwords typed on different keyboards derive the same key.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func B64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func B64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// B64URLEncode encodes without padding, suitable for tokens carried in headers.
func B64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
