package database

import (
	"sync"

	"github.com/serval/serval/pkg/log"
)

// maxQueueDepth bounds how many flushed-but-unwritten batches the
// peers lane may hold. Beyond that the oldest batch is dropped so a
// dead database cannot exhaust memory. Peer rows are rebuilt on every
// announce, so shedding them is safe; the other lanes carry credits
// and snatches that must survive an outage, and queue without bound.
const maxQueueDepth = 1000

// UserRecord is one user's transfer delta for a flush window.
type UserRecord struct {
	ID         uint64
	Uploaded   uint64
	Downloaded uint64
}

// TorrentRecord is a torrent's swarm summary for a flush window.
type TorrentRecord struct {
	ID       uint64
	Seeders  int
	Leechers int
	Snatched uint64
	Balance  int64
}

// SnatchRecord is one completed download.
type SnatchRecord struct {
	UserID    uint64
	TorrentID uint64
	Time      int64
	IP        string
}

// PeerRecord is one peer's state for a flush window. Heavy records
// carry the full column set; light records only refresh transfer
// totals and the mtime.
type PeerRecord struct {
	Heavy bool

	UserID    uint64
	TorrentID uint64
	Active    bool

	Uploaded   uint64
	Downloaded uint64
	UpSpeed    uint64
	DownSpeed  uint64
	Remaining  uint64
	Corrupt    uint64

	Timespent uint64
	Announced uint64

	IP        string
	PeerID    string
	UserAgent string

	Mtime int64
}

// TokenRecord is download spent against a freeleech token.
type TokenRecord struct {
	UserID     uint64
	TorrentID  uint64
	Downloaded uint64
}

type lane struct {
	name  string
	sheds bool

	mu    sync.Mutex
	queue [][]interface{}

	wake chan struct{}
}

func newLane(name string, sheds bool) *lane {
	return &lane{name: name, sheds: sheds, wake: make(chan struct{}, 1)}
}

// push appends a full batch to the lane queue and wakes the writer. A
// shedding lane drops its oldest batch when the queue is saturated.
func (l *lane) push(batch []interface{}) {
	if len(batch) == 0 {
		return
	}
	l.mu.Lock()
	if l.sheds && len(l.queue) >= maxQueueDepth {
		log.Warn("database: dropping oldest batch, queue saturated", log.Fields{"lane": l.name})
		l.queue = l.queue[1:]
	}
	l.queue = append(l.queue, batch)
	l.mu.Unlock()
	l.signal()
}

func (l *lane) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// peek returns the head batch without removing it.
func (l *lane) peek() []interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	return l.queue[0]
}

// pop discards the head batch.
func (l *lane) pop() {
	l.mu.Lock()
	if len(l.queue) > 0 {
		l.queue = l.queue[1:]
	}
	l.mu.Unlock()
}

func (l *lane) depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// RecordUser buffers a user transfer delta.
func (db *Database) RecordUser(r UserRecord) {
	db.bufMu.Lock()
	db.userBuf = append(db.userBuf, r)
	db.bufMu.Unlock()
}

// RecordTorrent buffers a torrent summary.
func (db *Database) RecordTorrent(r TorrentRecord) {
	db.bufMu.Lock()
	db.torrentBuf = append(db.torrentBuf, r)
	db.bufMu.Unlock()
}

// RecordSnatch buffers a snatch.
func (db *Database) RecordSnatch(r SnatchRecord) {
	db.bufMu.Lock()
	db.snatchBuf = append(db.snatchBuf, r)
	db.bufMu.Unlock()
}

// RecordPeer buffers a peer update. Heavy and light records flush as
// separate homogeneous batches.
func (db *Database) RecordPeer(r PeerRecord) {
	db.bufMu.Lock()
	if r.Heavy {
		db.peerHeavyBuf = append(db.peerHeavyBuf, r)
	} else {
		db.peerLightBuf = append(db.peerLightBuf, r)
	}
	db.bufMu.Unlock()
}

// RecordToken buffers token-download accounting.
func (db *Database) RecordToken(r TokenRecord) {
	db.bufMu.Lock()
	db.tokenBuf = append(db.tokenBuf, r)
	db.bufMu.Unlock()
}

// Flush seals the current buffers into per-lane batches and wakes the
// writers. In readonly mode the buffers are discarded instead. Lanes
// whose buffer is empty but whose queue still holds failed batches are
// woken as well so retries do not wait for new traffic.
func (db *Database) Flush() {
	db.bufMu.Lock()
	users, torrents, snatches := db.userBuf, db.torrentBuf, db.snatchBuf
	heavy, light, tokens := db.peerHeavyBuf, db.peerLightBuf, db.tokenBuf
	db.userBuf, db.torrentBuf, db.snatchBuf = nil, nil, nil
	db.peerHeavyBuf, db.peerLightBuf, db.tokenBuf = nil, nil, nil
	db.bufMu.Unlock()

	if db.readonly {
		return
	}

	db.users.push(boxUsers(users))
	db.torrents.push(boxTorrents(torrents))
	db.snatches.push(boxSnatches(snatches))
	db.peers.push(boxPeers(heavy))
	db.peers.push(boxPeers(light))
	db.tokens.push(boxTokens(tokens))

	for _, l := range db.lanes() {
		if l.depth() > 0 {
			l.signal()
		}
	}
}

func boxUsers(rs []UserRecord) []interface{} {
	out := make([]interface{}, len(rs))
	for i := range rs {
		out[i] = rs[i]
	}
	return out
}

func boxTorrents(rs []TorrentRecord) []interface{} {
	out := make([]interface{}, len(rs))
	for i := range rs {
		out[i] = rs[i]
	}
	return out
}

func boxSnatches(rs []SnatchRecord) []interface{} {
	out := make([]interface{}, len(rs))
	for i := range rs {
		out[i] = rs[i]
	}
	return out
}

func boxPeers(rs []PeerRecord) []interface{} {
	out := make([]interface{}, len(rs))
	for i := range rs {
		out[i] = rs[i]
	}
	return out
}

func boxTokens(rs []TokenRecord) []interface{} {
	out := make([]interface{}, len(rs))
	for i := range rs {
		out[i] = rs[i]
	}
	return out
}
