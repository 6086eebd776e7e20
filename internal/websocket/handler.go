package websocket

import (
	"net/http"
	"strconv"
	"strings"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades the request and serves indicator notifications
// until the client goes away. A "groups" query parameter (comma separated
// ids) sets the initial subscription; clients may change it later by
// sending a subscription message. originPatterns are passed to the
// upgrader; empty allows same-origin requests only.
func HandleWebSocket(hub *Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := parseGroupIDs(r.URL.Query().Get("groups"))
		if err != nil {
			http.Error(w, "invalid groups parameter", http.StatusBadRequest)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			hub.logger.Warn("websocket accept", "error", err, "remote", r.RemoteAddr)
			return
		}
		defer conn.CloseNow()

		client := NewClient(hub, conn)
		client.Subscribe(groups)
		client.Run(r.Context())
	}
}

func parseGroupIDs(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
