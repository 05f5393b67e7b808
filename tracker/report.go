package tracker

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Report renders the plaintext status endpoint the site's staff tools
// poll.
func (tr *Tracker) Report(params Params) string {
	action, _ := params.Get("get")
	switch action {
	case "stats":
		return tr.reportStats()
	case "user":
		return tr.reportUser(params)
	default:
		return "Invalid action\n"
	}
}

func (tr *Tracker) reportStats() string {
	snap := tr.stats.Snapshot()
	uptime := int64(tr.stats.Uptime(tr.clock.Now()).Seconds())

	days := uptime / 86400
	rem := uptime % 86400
	hours := rem / 3600
	rem %= 3600
	minutes := rem / 60
	seconds := rem % 60

	connRate, reqRate := int64(0), int64(0)
	if uptime > 0 {
		connRate = snap.OpenedConnections / uptime
		reqRate = snap.Requests / uptime
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Uptime %d days, %02d:%02d:%02d\n", days, hours, minutes, seconds)
	fmt.Fprintf(&b, "%d connections opened\n", snap.OpenedConnections)
	fmt.Fprintf(&b, "%d open connections\n", snap.OpenConnections)
	fmt.Fprintf(&b, "%d connections/s\n", connRate)
	fmt.Fprintf(&b, "%d requests handled\n", snap.Requests)
	fmt.Fprintf(&b, "%d requests/s\n", reqRate)
	fmt.Fprintf(&b, "%d successful announcements\n", snap.SuccessfulAnnounces)
	fmt.Fprintf(&b, "%d failed announcements\n", snap.Announces-snap.SuccessfulAnnounces)
	fmt.Fprintf(&b, "%d scrapes\n", snap.Scrapes)
	fmt.Fprintf(&b, "%d leechers tracked\n", snap.Leechers)
	fmt.Fprintf(&b, "%d seeders tracked\n", snap.Seeders)
	fmt.Fprintf(&b, "%d bytes read\n", snap.BytesRead)
	fmt.Fprintf(&b, "%d bytes written\n", snap.BytesWritten)
	return b.String()
}

func (tr *Tracker) reportUser(params Params) string {
	key, ok := params.Get("key")
	if !ok || key == "" {
		return "Invalid action\n"
	}
	u, found := tr.FindUser(key)
	if !found {
		return ""
	}
	return fmt.Sprintf("%d leeching\n%d seeding\n",
		atomic.LoadInt64(&u.Leeching), atomic.LoadInt64(&u.Seeding))
}
