package push

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/portal-sync/pkg/domain"
)

const maxSSEFrame = 1 << 20

// SSEDialer opens the Server-Sent Events variant of the push channel. The
// subscribed families are sent as ?entities=a,b and deltas arrive as
// "message" events. SSE connections are receive-only.
type SSEDialer struct {
	URL        string
	Families   []domain.Family
	HTTPClient *http.Client
	Header     http.Header
}

// Dial implements Dialer.
func (d SSEDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse push url: %w", err)
	}
	if len(d.Families) > 0 {
		names := make([]string, len(d.Families))
		for i, f := range d.Families {
			names[i] = f.String()
		}
		q := u.Query()
		q.Set("entities", strings.Join(names, ","))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build sse request: %w", err)
	}
	for k, v := range d.Header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("dial %s: unexpected status %d", u.Redacted(), resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("dial %s: unexpected content type %q", u.Redacted(), ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSEFrame)
	return &sseConn{body: resp.Body, scanner: scanner}, nil
}

type sseConn struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Receive returns the data of the next "message" event. Comments, retry
// hints and events of other types are skipped.
func (c *sseConn) Receive(ctx context.Context) ([]byte, error) {
	var (
		data  []string
		event string
	)
	for c.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := c.scanner.Text()

		if line == "" {
			if len(data) > 0 && (event == "" || event == "message") {
				return []byte(strings.Join(data, "\n")), nil
			}
			data, event = nil, ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			event = value
		}
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (c *sseConn) Send(context.Context, []byte) error {
	return ErrSendUnsupported
}

func (c *sseConn) Close() error {
	return c.body.Close()
}
