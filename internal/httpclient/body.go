package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// requestBody replays the configured payload on every attempt. Inline
// payloads share one byte slice; files are reopened per attempt so large
// payloads stream from disk instead of being held in memory.
type requestBody struct {
	data []byte
	path string
	size int64
}

func loadRequestBody(inline, path string) (requestBody, error) {
	path = strings.TrimSpace(path)
	if inline != "" && path != "" {
		return requestBody{}, errors.New("body and body file cannot both be provided")
	}
	if inline != "" {
		return requestBody{data: []byte(inline), size: int64(len(inline))}, nil
	}
	if path == "" {
		return requestBody{}, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return requestBody{}, fmt.Errorf("body file: %w", err)
	}
	if info.IsDir() {
		return requestBody{}, fmt.Errorf("body file %q is a directory", path)
	}
	return requestBody{path: path, size: info.Size()}, nil
}

// Len is the number of bytes sent with every request.
func (b requestBody) Len() int64 {
	return b.size
}

func (b requestBody) open() (io.ReadCloser, error) {
	switch {
	case b.path != "":
		f, err := os.Open(b.path)
		if err != nil {
			return nil, err
		}
		return f, nil
	case len(b.data) > 0:
		return io.NopCloser(bytes.NewReader(b.data)), nil
	default:
		return http.NoBody, nil
	}
}
