package files

import (
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrInvalidContent is returned for base64 content that does not decode.
var ErrInvalidContent = errors.New("invalid base64 content")

// DecodeText returns data as a string, replacing each invalid UTF-8
// sequence with U+FFFD instead of failing. The UTF-8 decoder never
// reports an error, it only substitutes.
func DecodeText(data []byte) string {
	out, _, _ := transform.Bytes(unicode.UTF8.NewDecoder(), data)
	return string(out)
}

// EncodeBase64 is the inverse of the Base64 write option.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func decodeContent(path, content string, isBase64 bool) ([]byte, error) {
	if !isBase64 {
		return []byte(content), nil
	}
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidContent, path, err)
	}
	return data, nil
}
