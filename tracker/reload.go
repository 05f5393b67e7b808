package tracker

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/serval/serval/models"
	"github.com/serval/serval/pkg/log"
)

// ReloadLists resyncs users, torrents, tokens and the whitelist from
// the database. It runs at startup and whenever the site asks for it.
func (tr *Tracker) ReloadLists(loader Loader) error {
	if err := tr.ReloadUsers(loader); err != nil {
		return err
	}
	if err := tr.ReloadTorrents(loader); err != nil {
		return err
	}
	if err := tr.ReloadTokens(loader); err != nil {
		return err
	}
	return tr.ReloadWhitelist(loader)
}

// ReloadUsers merges the user table into the in-memory map. Existing
// structs are updated in place so peers keep valid pointers; accounts
// gone from the table are evicted and flagged deleted.
func (tr *Tracker) ReloadUsers(loader Loader) error {
	rows, err := loader.LoadUsers()
	if err != nil {
		return errors.Wrap(err, "reload users")
	}

	tr.UsersMutex.Lock()
	defer tr.UsersMutex.Unlock()

	survivors := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if len(row.Passkey) != 32 {
			log.Warn("reload: skipping user with malformed passkey",
				log.Fields{"user": row.ID})
			continue
		}
		survivors[row.Passkey] = struct{}{}
		if u, ok := tr.Users[row.Passkey]; ok {
			u.Leech = row.CanLeech
			u.Protect = row.Protected
			continue
		}
		tr.Users[row.Passkey] = &models.User{
			ID:      row.ID,
			Leech:   row.CanLeech,
			Protect: row.Protected,
		}
	}
	for passkey, u := range tr.Users {
		if _, ok := survivors[passkey]; !ok {
			u.Deleted = true
			delete(tr.Users, passkey)
		}
	}

	log.Info("reload: users synced", log.Fields{"users": len(tr.Users)})
	return nil
}

// ReloadTorrents merges the torrent table into the swarm map. Swarms
// for vanished torrents are dropped and their peers' counters given
// back.
func (tr *Tracker) ReloadTorrents(loader Loader) error {
	rows, err := loader.LoadTorrents()
	if err != nil {
		return errors.Wrap(err, "reload torrents")
	}

	tr.TorrentsMutex.Lock()
	defer tr.TorrentsMutex.Unlock()

	survivors := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if len(row.InfoHash) != 20 {
			log.Warn("reload: skipping torrent with malformed info_hash",
				log.Fields{"torrent": row.ID})
			continue
		}
		ih := string(row.InfoHash)
		survivors[ih] = struct{}{}
		if tor, ok := tr.Torrents[ih]; ok {
			tor.FreeTorrent = models.LeechTypeFromString(row.FreeTorrent)
			tor.Completed = row.Snatched
			continue
		}
		tor := models.NewTorrent(row.ID)
		tor.FreeTorrent = models.LeechTypeFromString(row.FreeTorrent)
		tor.Completed = row.Snatched
		tr.Torrents[ih] = tor
	}
	for ih, tor := range tr.Torrents {
		if _, ok := survivors[ih]; ok {
			continue
		}
		tor.Seeders.Range(func(_ string, p *models.Peer) bool {
			atomic.AddInt64(&p.User.Seeding, -1)
			atomic.AddInt64(&tr.stats.Seeders, -1)
			return true
		})
		tor.Leechers.Range(func(_ string, p *models.Peer) bool {
			atomic.AddInt64(&p.User.Leeching, -1)
			atomic.AddInt64(&tr.stats.Leechers, -1)
			return true
		})
		delete(tr.Torrents, ih)
	}

	log.Info("reload: torrents synced", log.Fields{"torrents": len(tr.Torrents)})
	return nil
}

// ReloadTokens rebuilds every torrent's tokened-user set from the
// freeleech table.
func (tr *Tracker) ReloadTokens(loader Loader) error {
	rows, err := loader.LoadTokens()
	if err != nil {
		return errors.Wrap(err, "reload tokens")
	}

	tr.TorrentsMutex.Lock()
	defer tr.TorrentsMutex.Unlock()

	byID := make(map[uint64]*models.Torrent, len(tr.Torrents))
	for _, tor := range tr.Torrents {
		byID[tor.ID] = tor
		for uid := range tor.TokenedUsers {
			delete(tor.TokenedUsers, uid)
		}
	}
	count := 0
	for _, row := range rows {
		if tor, ok := byID[row.TorrentID]; ok {
			tor.TokenedUsers[row.UserID] = struct{}{}
			count++
		}
	}

	log.Info("reload: tokens synced", log.Fields{"tokens": count})
	return nil
}

// ReloadWhitelist replaces the client whitelist.
func (tr *Tracker) ReloadWhitelist(loader Loader) error {
	rows, err := loader.LoadWhitelist()
	if err != nil {
		return errors.Wrap(err, "reload whitelist")
	}

	tr.WhitelistMutex.Lock()
	tr.Whitelist = rows
	tr.WhitelistMutex.Unlock()

	log.Info("reload: whitelist synced", log.Fields{"clients": len(rows)})
	return nil
}
