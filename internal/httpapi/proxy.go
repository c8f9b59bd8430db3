package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/atlasdatatech/tileserver/internal/dispatch"
	"github.com/atlasdatatech/tileserver/internal/errs"
	"github.com/atlasdatatech/tileserver/internal/statemachine"
)

// peerConnectTimeout and peerMaxAttempts implement spec.md §5's "Upstream
// peer proxy uses a separate 20s connect timeout and up to three
// reconnect attempts".
const peerConnectTimeout = 20 * time.Second
const peerMaxAttempts = 3

// HTTPPeerProxy implements statemachine.PeerProxy by replaying the
// request against a peer's internal port over plain HTTP — the same
// surface this package serves (spec.md §6 "Peer protocol": "plain HTTP —
// the same surface, called between nodes on the internal port").
type HTTPPeerProxy struct {
	Client *http.Client
}

// NewHTTPPeerProxy constructs a proxy client with the spec's connect
// timeout.
func NewHTTPPeerProxy() *HTTPPeerProxy {
	return &HTTPPeerProxy{
		Client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: peerConnectTimeout}).DialContext,
			},
		},
	}
}

// Fetch implements statemachine.PeerProxy.
func (p *HTTPPeerProxy) Fetch(ctx context.Context, addr string, req dispatch.TileRequest) (statemachine.Response, error) {
	url := "http://" + addr + requestPath(req)

	var lastErr error
	for attempt := 0; attempt < peerMaxAttempts; attempt++ {
		resp, err := p.doFetch(ctx, url)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isConnectError(err) {
			return statemachine.Response{}, errs.Wrap(errs.PeerProtocol, "peer request failed", err)
		}
	}
	return statemachine.Response{}, errs.Wrap(errs.PeerConnect, "peer unreachable after retries", lastErr)
}

func (p *HTTPPeerProxy) doFetch(ctx context.Context, url string) (statemachine.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return statemachine.Response{}, err
	}
	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return statemachine.Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return statemachine.Response{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return statemachine.Response{}, fmt.Errorf("peer %s returned status %d", url, resp.StatusCode)
	}
	return statemachine.Response{Data: body}, nil
}

// isConnectError distinguishes a transport-level failure (worth
// retrying, then falling back to local generation) from a peer that
// answered but with a bad response (peer_protocol, surfaced as-is).
func isConnectError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}

// requestPath rebuilds the path this request was parsed from, for
// replaying against a peer. Tag order carries no meaning (TileRequest
// tracks tags as a set), so SortedTags gives a deterministic, equivalent
// path rather than the client's original byte-for-byte one.
func requestPath(req dispatch.TileRequest) string {
	var b strings.Builder
	b.WriteByte('/')
	if req.Version != "" {
		b.WriteString(req.Version)
		b.WriteByte('/')
	}
	if req.EndpointName != "" {
		b.WriteString(req.EndpointName)
		b.WriteByte('/')
	}
	for _, t := range req.SortedTags() {
		b.WriteString(t)
		b.WriteByte('/')
	}
	fmt.Fprintf(&b, "%d/%d/%d.%s", req.TileID.Z, req.TileID.X, req.TileID.Y, dispatch.ExtString(req.Extension))
	if len(req.Layers) > 0 {
		b.WriteString("?layers=")
		b.WriteString(strings.Join(req.Layers, ","))
	}
	return b.String()
}
