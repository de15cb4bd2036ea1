package source

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Decode errors
var (
	ErrDecode              = errors.New("content decode failed")
	ErrBinaryContent       = errors.New("content is not valid UTF-8 text")
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")
)

// DecodeContent turns an upstream payload into text. The base64 alphabet
// used by GitHub wraps lines with "\n", which is stripped before decoding.
func DecodeContent(content, encoding string) (string, error) {
	var raw []byte
	switch strings.ToLower(encoding) {
	case "base64":
		cleaned := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == ' ' {
				return -1
			}
			return r
		}, content)
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		raw = decoded
	case "", "utf-8", "utf8":
		raw = []byte(content)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}

	if !utf8.Valid(raw) {
		return "", ErrBinaryContent
	}
	if strings.IndexByte(string(raw), 0) >= 0 {
		return "", ErrBinaryContent
	}
	return string(raw), nil
}
