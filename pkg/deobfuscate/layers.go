package deobfuscate

import (
	"encoding/base64"
	"fmt"
	"strings"

	"stream-resolver-go/pkg/types"
)

// DecodeLayers base64-decodes text n times. Standard, URL-safe and unpadded
// alphabets are accepted at every layer.
func DecodeLayers(text string, n int) ([]byte, error) {
	data := []byte(text)
	for layer := 0; layer < n; layer++ {
		decoded, ok := decodeBase64(string(data))
		if !ok {
			return nil, fmt.Errorf("%w: layer %d is not base64", types.ErrMalformedPayload, layer+1)
		}
		data = decoded
	}
	return data, nil
}

// EncodeLayers is the inverse of DecodeLayers with the standard alphabet.
func EncodeLayers(data []byte, n int) string {
	out := string(data)
	for layer := 0; layer < n; layer++ {
		out = base64.StdEncoding.EncodeToString([]byte(out))
	}
	return out
}

func decodeBase64(s string) ([]byte, bool) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)

	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, true
		}
	}
	return nil, false
}
