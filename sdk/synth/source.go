package synth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/leandrodaf/sfworklet/sdk/contracts"
)

// FileSource reads a payload from the local file system.
type FileSource string

func (f FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(string(f))
}

// BytesSource serves an in-memory payload.
type BytesSource []byte

func (b BytesSource) Fetch(context.Context) ([]byte, error) {
	return b, nil
}

// HTTPSource downloads a payload with a GET request. A nil Client uses
// http.DefaultClient.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (h HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, err
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", h.URL, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// SourceFor returns an HTTPSource for http and https URLs and a FileSource
// for anything else.
func SourceFor(location string) contracts.Source {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return HTTPSource{URL: location}
	}
	return FileSource(location)
}
