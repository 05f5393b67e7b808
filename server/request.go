package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/serval/serval/models"
)

// newAnnounce extracts an announce request from the parsed query and
// the HTTP envelope. Missing or malformed numeric fields read as zero;
// the tracker decides what is fatal.
func newAnnounce(q *query, r *http.Request) *models.Announce {
	ann := &models.Announce{}

	ann.InfoHash, _ = q.Get("info_hash")
	ann.PeerID, _ = q.Get("peer_id")
	ann.Port, _ = q.Uint16("port")
	ann.Uploaded, _ = q.Uint64("uploaded")
	ann.Downloaded, _ = q.Uint64("downloaded")
	ann.Corrupt, _ = q.Uint64("corrupt")
	ann.Left, _ = q.Uint64("left")
	ann.Event, _ = q.Get("event")
	ann.UserAgent = r.UserAgent()

	if _, ok := q.Get("numwant"); ok {
		ann.NumWantSet = true
		// Negative or garbage numwant reads as zero.
		if n, ok := q.Uint64("numwant"); ok {
			ann.NumWant = int(n)
		}
	}

	compact, ok := q.Get("compact")
	ann.Compact = ok && compact == "1"

	ann.IP = requestIP(q, r)
	return ann
}

// requestIP picks the peer's address: an explicit ip or ipv4
// parameter wins, then the first X-Forwarded-For hop, then the socket
// address.
func requestIP(q *query, r *http.Request) string {
	if ip, ok := q.Get("ip"); ok && ip != "" {
		return ip
	}
	if ip, ok := q.Get("ipv4"); ok && ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if i := strings.IndexByte(xff, ','); i >= 0 {
			first = xff[:i]
		}
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
