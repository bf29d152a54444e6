package remote

import (
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdEncoder is shared by every push; EncodeAll is safe for concurrent use.
var zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
	return zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
})

// encodeZstd compresses a whole request body as one zstd frame.
func encodeZstd(body []byte) ([]byte, error) {
	enc, err := zstdEncoder()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(body, make([]byte, 0, len(body)/2)), nil
}

// decodeZstd streams a zstd response body. Closing the result releases the
// decoder but not r.
func decodeZstd(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

// zstdEncoded reports whether a Content-Encoding header lists zstd as one
// of its codings.
func zstdEncoded(header string) bool {
	for coding := range strings.SplitSeq(header, ",") {
		if strings.EqualFold(strings.TrimSpace(coding), "zstd") {
			return true
		}
	}
	return false
}
