package tracker

import (
	"strconv"
	"sync/atomic"

	"github.com/serval/serval/models"
	"github.com/serval/serval/pkg/log"
)

// Params exposes request parameters to the update actions. The server's
// query parser satisfies it.
type Params interface {
	Get(key string) (string, bool)
}

// Update applies one site-driven state change. The site fires these
// when users, torrents, tokens or the whitelist change, so the tracker
// never has to poll.
func (tr *Tracker) Update(params Params) string {
	action, _ := params.Get("action")
	switch action {
	case "change_passkey":
		tr.changePasskey(params)
	case "add_user":
		tr.addUser(params)
	case "remove_user":
		tr.removeUser(params)
	case "remove_users":
		tr.removeUsers(params)
	case "update_user":
		tr.updateUser(params)
	case "add_torrent":
		tr.addTorrent(params)
	case "update_torrent":
		tr.updateTorrent(params)
	case "update_torrents":
		tr.updateTorrents(params)
	case "delete_torrent":
		tr.deleteTorrent(params)
	case "add_token":
		tr.addToken(params)
	case "remove_token":
		tr.removeToken(params)
	case "add_whitelist":
		tr.addWhitelist(params)
	case "remove_whitelist":
		tr.removeWhitelist(params)
	case "edit_whitelist":
		tr.editWhitelist(params)
	case "update_announce_interval":
		tr.updateAnnounceInterval(params)
	case "info_torrent":
		tr.infoTorrent(params)
	default:
		// The site treats any non-success body as an outage, so even
		// unknown actions acknowledge.
		log.Warn("update: unknown action", log.Fields{"action": action})
	}
	return "success"
}

func (tr *Tracker) changePasskey(params Params) {
	oldKey, _ := params.Get("oldpasskey")
	newKey, _ := params.Get("newpasskey")

	tr.UsersMutex.Lock()
	defer tr.UsersMutex.Unlock()
	u, ok := tr.Users[oldKey]
	if !ok {
		log.Warn("update: change_passkey for unknown passkey")
		return
	}
	delete(tr.Users, oldKey)
	tr.Users[newKey] = u
	log.Info("update: changed passkey", log.Fields{"user": u.ID})
}

func (tr *Tracker) addUser(params Params) {
	passkey, _ := params.Get("passkey")
	id, err := paramUint(params, "id")
	if err != nil {
		log.Warn("update: add_user with bad id", log.Err(err))
		return
	}

	visible, _ := params.Get("visible")

	tr.UsersMutex.Lock()
	defer tr.UsersMutex.Unlock()
	if _, ok := tr.Users[passkey]; ok {
		return
	}
	tr.Users[passkey] = &models.User{ID: id, Leech: true, Protect: visible == "0"}
	log.Info("update: added user", log.Fields{"user": id})
}

func (tr *Tracker) removeUser(params Params) {
	passkey, _ := params.Get("passkey")

	tr.UsersMutex.Lock()
	defer tr.UsersMutex.Unlock()
	tr.evictUser(passkey)
}

// evictUser must be called with the users lock held. The struct is
// flagged so lingering peers stop being served.
func (tr *Tracker) evictUser(passkey string) {
	if u, ok := tr.Users[passkey]; ok {
		u.Deleted = true
		delete(tr.Users, passkey)
		log.Info("update: removed user", log.Fields{"user": u.ID})
	}
}

// removeUsers takes the passkeys packed back to back, 32 bytes each.
func (tr *Tracker) removeUsers(params Params) {
	packed, _ := params.Get("passkeys")
	if len(packed)%32 != 0 {
		log.Warn("update: remove_users payload not a multiple of 32",
			log.Fields{"length": len(packed)})
		return
	}

	tr.UsersMutex.Lock()
	defer tr.UsersMutex.Unlock()
	for i := 0; i+32 <= len(packed); i += 32 {
		tr.evictUser(packed[i : i+32])
	}
}

func (tr *Tracker) updateUser(params Params) {
	passkey, _ := params.Get("passkey")
	canLeech, _ := params.Get("can_leech")
	visible, _ := params.Get("visible")

	tr.UsersMutex.Lock()
	defer tr.UsersMutex.Unlock()
	u, ok := tr.Users[passkey]
	if !ok {
		log.Warn("update: update_user for unknown passkey")
		return
	}
	u.Leech = canLeech == "1"
	u.Protect = visible == "0"
	log.Info("update: updated user", log.Fields{
		"user": u.ID, "can_leech": u.Leech, "protect": u.Protect,
	})
}

func (tr *Tracker) addTorrent(params Params) {
	infoHash, _ := params.Get("info_hash")
	if len(infoHash) != 20 {
		log.Warn("update: add_torrent with malformed info_hash")
		return
	}
	id, err := paramUint(params, "id")
	if err != nil {
		log.Warn("update: add_torrent with bad id", log.Err(err))
		return
	}
	free, _ := params.Get("freetorrent")

	tr.TorrentsMutex.Lock()
	defer tr.TorrentsMutex.Unlock()
	tor, ok := tr.Torrents[infoHash]
	if !ok {
		tor = models.NewTorrent(id)
		tr.Torrents[infoHash] = tor
	}
	tor.FreeTorrent = models.LeechTypeFromString(free)
	delete(tr.delReasons, infoHash)
	log.Info("update: added torrent", log.Fields{"torrent": id})
}

func (tr *Tracker) updateTorrent(params Params) {
	infoHash, _ := params.Get("info_hash")
	free, _ := params.Get("freetorrent")

	tr.TorrentsMutex.Lock()
	defer tr.TorrentsMutex.Unlock()
	tor, ok := tr.Torrents[infoHash]
	if !ok {
		log.Warn("update: update_torrent for unknown torrent")
		return
	}
	tor.FreeTorrent = models.LeechTypeFromString(free)
	log.Info("update: updated torrent", log.Fields{"torrent": tor.ID})
}

// updateTorrents takes the info hashes packed back to back, 20 bytes
// each, all switched to the same leech type.
func (tr *Tracker) updateTorrents(params Params) {
	packed, _ := params.Get("info_hashes")
	free, _ := params.Get("freetorrent")
	if len(packed)%20 != 0 {
		log.Warn("update: update_torrents payload not a multiple of 20",
			log.Fields{"length": len(packed)})
		return
	}

	leechType := models.LeechTypeFromString(free)
	tr.TorrentsMutex.Lock()
	defer tr.TorrentsMutex.Unlock()
	for i := 0; i+20 <= len(packed); i += 20 {
		if tor, ok := tr.Torrents[packed[i:i+20]]; ok {
			tor.FreeTorrent = leechType
		}
	}
}

func (tr *Tracker) deleteTorrent(params Params) {
	infoHash, _ := params.Get("info_hash")
	reason := -1
	if s, ok := params.Get("reason"); ok {
		if n, err := strconv.Atoi(s); err == nil {
			reason = n
		}
	}

	tr.TorrentsMutex.Lock()
	defer tr.TorrentsMutex.Unlock()
	tor, ok := tr.Torrents[infoHash]
	if !ok {
		log.Warn("update: delete_torrent for unknown torrent")
		return
	}

	// Peers vanish with the torrent; give their users and the global
	// gauges the counts back.
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

	delete(tr.Torrents, infoHash)
	tr.delReasons[infoHash] = models.DelReason{
		Reason: reason,
		Time:   tr.clock.Now().Unix(),
	}
	log.Info("update: deleted torrent", log.Fields{
		"torrent": tor.ID,
		"reason":  models.DelReasonString(reason),
	})
}

// addToken removes the user from the tokened set and removeToken adds
// them. The site has always called these with the semantics swapped,
// so the swap lives here where both sides agree on it.
func (tr *Tracker) addToken(params Params) {
	infoHash, _ := params.Get("info_hash")
	userID, err := paramUint(params, "userid")
	if err != nil {
		log.Warn("update: add_token with bad userid", log.Err(err))
		return
	}

	tr.TorrentsMutex.Lock()
	defer tr.TorrentsMutex.Unlock()
	if tor, ok := tr.Torrents[infoHash]; ok {
		delete(tor.TokenedUsers, userID)
	}
}

func (tr *Tracker) removeToken(params Params) {
	infoHash, _ := params.Get("info_hash")
	userID, err := paramUint(params, "userid")
	if err != nil {
		log.Warn("update: remove_token with bad userid", log.Err(err))
		return
	}

	tr.TorrentsMutex.Lock()
	defer tr.TorrentsMutex.Unlock()
	if tor, ok := tr.Torrents[infoHash]; ok {
		tor.TokenedUsers[userID] = struct{}{}
	}
}

func (tr *Tracker) addWhitelist(params Params) {
	peerID, _ := params.Get("peer_id")
	if peerID == "" {
		return
	}

	tr.WhitelistMutex.Lock()
	defer tr.WhitelistMutex.Unlock()
	tr.Whitelist = append(tr.Whitelist, peerID)
	log.Info("update: whitelisted client", log.Fields{"peer_id": peerID})
}

func (tr *Tracker) removeWhitelist(params Params) {
	peerID, _ := params.Get("peer_id")

	tr.WhitelistMutex.Lock()
	defer tr.WhitelistMutex.Unlock()
	kept := tr.Whitelist[:0]
	for _, p := range tr.Whitelist {
		if p != peerID {
			kept = append(kept, p)
		}
	}
	tr.Whitelist = kept
	log.Info("update: removed whitelisted client", log.Fields{"peer_id": peerID})
}

func (tr *Tracker) editWhitelist(params Params) {
	oldID, _ := params.Get("old_peer_id")
	newID, _ := params.Get("new_peer_id")

	tr.WhitelistMutex.Lock()
	defer tr.WhitelistMutex.Unlock()
	for i, p := range tr.Whitelist {
		if p == oldID {
			tr.Whitelist[i] = newID
			log.Info("update: edited whitelisted client",
				log.Fields{"old": oldID, "new": newID})
			return
		}
	}
}

func (tr *Tracker) updateAnnounceInterval(params Params) {
	n, err := paramUint(params, "announce_interval")
	if err != nil || n == 0 {
		log.Warn("update: bad announce interval")
		return
	}
	tr.SetAnnounceInterval(int64(n))
	log.Info("update: announce interval changed", log.Fields{"seconds": n})
}

func (tr *Tracker) infoTorrent(params Params) {
	infoHash, _ := params.Get("info_hash")

	tr.TorrentsMutex.RLock()
	defer tr.TorrentsMutex.RUnlock()
	tor, ok := tr.Torrents[infoHash]
	if !ok {
		log.Info("update: info_torrent for unknown torrent")
		return
	}
	log.Info("update: torrent info", log.Fields{
		"torrent":  tor.ID,
		"seeders":  tor.Seeders.Len(),
		"leechers": tor.Leechers.Len(),
		"snatches": tor.Completed,
		"balance":  tor.Balance,
	})
}

func paramUint(params Params, key string) (uint64, error) {
	s, _ := params.Get(key)
	return strconv.ParseUint(s, 10, 64)
}
