// Package feed provides change feed transports that are not tied to the
// remote store itself. The websocket feed consumes row-level change events
// from a relay endpoint, for deployments where clients cannot hold a
// database connection open.
package feed

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"draftsync/internal/draft"
)

// WebsocketFeed implements draft.ChangeFeed over a websocket relay. The
// relay is expected to emit one JSON-encoded draft.ChangeEvent per message,
// already filtered to the tenant named in the subscribe URL.
type WebsocketFeed struct {
	endpoint string
	logger   draft.Logger
}

var _ draft.ChangeFeed = (*WebsocketFeed)(nil)

func NewWebsocketFeed(endpoint string, logger draft.Logger) *WebsocketFeed {
	return &WebsocketFeed{endpoint: endpoint, logger: logger}
}

// Subscribe dials the relay and streams events until ctx is cancelled or the
// connection drops. The returned channel is closed on exit; reconnecting is
// the caller's concern.
func (f *WebsocketFeed) Subscribe(ctx context.Context, tenantID string) (<-chan draft.ChangeEvent, error) {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing feed endpoint: %w", err)
	}
	q := u.Query()
	q.Set("tenant", tenantID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing change feed: %w", err)
	}

	events := make(chan draft.ChangeEvent)
	go func() {
		defer close(events)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			var ev draft.ChangeEvent
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				if ctx.Err() == nil {
					f.logger.Error("change feed connection lost", "error", err)
				}
				return
			}
			if ev.Row == nil || ev.Row.ID == "" {
				f.logger.Error("malformed change event, dropping", "kind", string(ev.Kind))
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
