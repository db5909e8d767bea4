package acme

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-acmecert/acmecert/netclient"
)

// directory is the fetched-once mapping of ACME operation name to absolute
// URL, spec.md §4.B. Adapted from the teacher's acme/client/directory.go,
// generalized to take a Server enum (spec.md §6) instead of a single
// hardcoded URL string.
type directory struct {
	urls map[string]string
}

func fetchDirectory(ctx context.Context, net *netclient.Client, url string) (*directory, error) {
	resp, err := net.Get(ctx, url)
	if err != nil {
		return nil, newError(KindDirectoryFetch, "fetchDirectory", err)
	}
	if resp.StatusCode != 200 {
		return nil, newError(KindDirectoryFetch, "fetchDirectory",
			fmt.Errorf("directory endpoint returned HTTP status %d", resp.StatusCode))
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, newError(KindDirectoryFetch, "fetchDirectory", err)
	}

	urls := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			urls[k] = s
		}
	}

	return &directory{urls: urls}, nil
}

// endpoint looks up a directory entry by name, returning ok=false if absent
// or empty.
func (d *directory) endpoint(name string) (string, bool) {
	url, ok := d.urls[name]
	if !ok || url == "" {
		return "", false
	}
	return url, true
}
