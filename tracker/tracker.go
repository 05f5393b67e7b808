// Package tracker holds the in-memory swarm state and implements the
// announce, scrape, update and report operations against it.
package tracker

import (
	"sync"
	"sync/atomic"

	"github.com/andres-erbsen/clock"

	"github.com/serval/serval/config"
	"github.com/serval/serval/database"
	"github.com/serval/serval/models"
	"github.com/serval/serval/stats"
)

// Tracker status values.
const (
	StatusOpen int32 = iota
	StatusPaused
	StatusClosing
)

// Recorder receives write-behind records produced by the tracker.
// *database.Database satisfies it.
type Recorder interface {
	RecordUser(database.UserRecord)
	RecordTorrent(database.TorrentRecord)
	RecordSnatch(database.SnatchRecord)
	RecordPeer(database.PeerRecord)
	RecordToken(database.TokenRecord)
}

// TokenExpirer is notified when a freeleech token runs out.
// *site.Client satisfies it.
type TokenExpirer interface {
	ExpireToken(torrentID, userID uint64)
}

// Loader reads tracker state from persistent storage for the initial
// load and periodic reloads. *database.Database satisfies it.
type Loader interface {
	LoadTorrents() ([]database.TorrentRow, error)
	LoadUsers() ([]database.UserRow, error)
	LoadTokens() ([]database.TokenRow, error)
	LoadWhitelist() ([]string, error)
}

// Tracker is the swarm state shared by the request handlers and the
// background workers.
//
// Lock order when more than one is needed: users, then torrents, then
// whitelist.
type Tracker struct {
	cfg   *config.Config
	clock clock.Clock
	stats *stats.Stats

	db   Recorder
	site TokenExpirer

	status           int32
	announceInterval int64

	UsersMutex sync.RWMutex
	Users      map[string]*models.User

	TorrentsMutex sync.RWMutex
	Torrents      map[string]*models.Torrent
	delReasons    map[string]models.DelReason

	WhitelistMutex sync.RWMutex
	Whitelist      []string
}

// New returns a Tracker with empty state.
func New(cfg *config.Config, clk clock.Clock, st *stats.Stats, db Recorder, site TokenExpirer) *Tracker {
	return &Tracker{
		cfg:              cfg,
		clock:            clk,
		stats:            st,
		db:               db,
		site:             site,
		announceInterval: int64(cfg.Tracker.AnnounceInterval),
		Users:            make(map[string]*models.User),
		Torrents:         make(map[string]*models.Torrent),
		delReasons:       make(map[string]models.DelReason),
	}
}

// Status returns the current tracker status.
func (tr *Tracker) Status() int32 {
	return atomic.LoadInt32(&tr.status)
}

// SetStatus transitions the tracker status.
func (tr *Tracker) SetStatus(s int32) {
	atomic.StoreInt32(&tr.status, s)
}

// FindUser resolves a passkey to a user.
func (tr *Tracker) FindUser(passkey string) (*models.User, bool) {
	tr.UsersMutex.RLock()
	u, ok := tr.Users[passkey]
	tr.UsersMutex.RUnlock()
	return u, ok
}

// whitelisted reports whether a peer ID matches a whitelist prefix.
// An empty whitelist allows every client.
func (tr *Tracker) whitelisted(peerID string) bool {
	tr.WhitelistMutex.RLock()
	defer tr.WhitelistMutex.RUnlock()
	if len(tr.Whitelist) == 0 {
		return true
	}
	for _, prefix := range tr.Whitelist {
		if len(peerID) >= len(prefix) && peerID[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// AnnounceInterval is the base interval handed to clients, in seconds.
func (tr *Tracker) AnnounceInterval() int64 {
	return atomic.LoadInt64(&tr.announceInterval)
}

// SetAnnounceInterval changes the base interval at runtime.
func (tr *Tracker) SetAnnounceInterval(seconds int64) {
	atomic.StoreInt64(&tr.announceInterval, seconds)
}
