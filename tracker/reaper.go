package tracker

import (
	"sync/atomic"

	"github.com/serval/serval/database"
	"github.com/serval/serval/models"
	"github.com/serval/serval/pkg/log"
)

// ReapPeers removes peers that have not announced within the timeout.
// Torrents whose swarm changed are queued for a flush so the site does
// not keep showing ghost seeders.
func (tr *Tracker) ReapPeers() {
	cutoff := tr.clock.Now().Unix() - int64(tr.cfg.Timers.PeersTimeout)
	pend := &pendingRecords{}
	reaped := 0

	tr.TorrentsMutex.Lock()
	for _, tor := range tr.Torrents {
		changed := false

		var stale []string
		tor.Seeders.Range(func(k string, p *models.Peer) bool {
			if p.LastAnnounced < cutoff {
				stale = append(stale, k)
				atomic.AddInt64(&p.User.Seeding, -1)
				atomic.AddInt64(&tr.stats.Seeders, -1)
			}
			return true
		})
		for _, k := range stale {
			tor.Seeders.Delete(k)
		}
		reaped += len(stale)
		changed = changed || len(stale) > 0

		stale = stale[:0]
		tor.Leechers.Range(func(k string, p *models.Peer) bool {
			if p.LastAnnounced < cutoff {
				stale = append(stale, k)
				atomic.AddInt64(&p.User.Leeching, -1)
				atomic.AddInt64(&tr.stats.Leechers, -1)
			}
			return true
		})
		for _, k := range stale {
			tor.Leechers.Delete(k)
		}
		reaped += len(stale)
		changed = changed || len(stale) > 0

		if changed {
			tor.LastFlushed = tr.clock.Now().Unix()
			pend.torrents = append(pend.torrents, database.TorrentRecord{
				ID:       tor.ID,
				Seeders:  tor.Seeders.Len(),
				Leechers: tor.Leechers.Len(),
				Balance:  tor.Balance,
			})
		}
	}
	tr.TorrentsMutex.Unlock()

	tr.emit(pend)
	if reaped > 0 {
		log.Info("reaper: removed inactive peers", log.Fields{"peers": reaped})
	}
}

// ReapDelReasons forgets deletion reasons past their lifetime, so the
// cache does not grow without bound.
func (tr *Tracker) ReapDelReasons() {
	cutoff := tr.clock.Now().Unix() - int64(tr.cfg.Timers.DelReasonLifetime)

	tr.TorrentsMutex.Lock()
	for ih, dr := range tr.delReasons {
		if dr.Time < cutoff {
			delete(tr.delReasons, ih)
		}
	}
	tr.TorrentsMutex.Unlock()
}
