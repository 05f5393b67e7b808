package tracker

import (
	"encoding/binary"
	"net"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/serval/serval/database"
	"github.com/serval/serval/models"
)

// pendingRecords collects write-behind records produced while the
// torrents lock is held; they are emitted after unlock so a busy
// database buffer never blocks the swarm.
type pendingRecords struct {
	users    []database.UserRecord
	torrents []database.TorrentRecord
	snatches []database.SnatchRecord
	peers    []database.PeerRecord
	tokens   []database.TokenRecord
	expiries [][2]uint64
}

func (tr *Tracker) emit(pend *pendingRecords) {
	for _, r := range pend.users {
		tr.db.RecordUser(r)
	}
	for _, r := range pend.torrents {
		tr.db.RecordTorrent(r)
	}
	for _, r := range pend.snatches {
		tr.db.RecordSnatch(r)
	}
	for _, r := range pend.peers {
		tr.db.RecordPeer(r)
	}
	for _, r := range pend.tokens {
		tr.db.RecordToken(r)
	}
	for _, e := range pend.expiries {
		tr.site.ExpireToken(e[0], e[1])
	}
}

// peerKey disambiguates multiple clients of one user in one swarm. The
// torrent-dependent peer ID byte keeps users who clone their client
// config from colliding.
func peerKey(torrentID, userID uint64, peerID string) string {
	i := 12 + int(torrentID&7)
	return peerID[i:i+1] + strconv.FormatUint(userID, 10) + peerID
}

// Announce processes one announce for an authenticated user and
// returns the peers to hand back.
func (tr *Tracker) Announce(ann *models.Announce, user *models.User) (*models.AnnounceOutput, error) {
	if ann.PeerID == "" {
		return nil, models.ClientError("No peer ID")
	}
	if len(ann.PeerID) != 20 {
		return nil, models.ClientError("Invalid peer ID")
	}
	if !tr.whitelisted(ann.PeerID) {
		return nil, models.ClientError("Your client is not on the whitelist")
	}
	if !ann.Compact {
		return nil, models.ClientError("Your client does not support compact announces")
	}

	now := tr.clock.Now().Unix()
	pend := &pendingRecords{}

	tr.TorrentsMutex.Lock()
	tor, ok := tr.Torrents[ann.InfoHash]
	if !ok {
		dr, deleted := tr.delReasons[ann.InfoHash]
		tr.TorrentsMutex.Unlock()
		if deleted {
			return nil, models.ClientError(
				"This torrent does not exist (" + models.DelReasonString(dr.Reason) + ")")
		}
		return nil, models.ClientError("This torrent does not exist")
	}

	key := peerKey(tor.ID, user.ID, ann.PeerID)

	started := ann.Event == "started"
	stoppedEvent := ann.Event == "stopped"

	var (
		peer             *models.Peer
		inserted         bool
		stopped          bool
		snatched         bool
		completedTorrent bool
		peerChanged      bool
		updateTorrent    bool
		seeding          bool
		expireToken      bool
		deltaL, deltaS   int
	)

	switch {
	case ann.Left > 0:
		if p, found := tor.Leechers.Get(key); found {
			peer = p
		} else {
			peer = &models.Peer{User: user, ID: ann.PeerID}
			tor.Leechers.Put(key, peer)
			inserted = true
			deltaL++
		}
	case ann.Event == "completed":
		if p, found := tor.Leechers.Get(key); found {
			peer = p
			completedTorrent = true
		} else if p, found := tor.Seeders.Get(key); found {
			// Already seeding; a repeated completed event earns no
			// second snatch.
			peer = p
			seeding = true
		} else {
			peer = &models.Peer{User: user, ID: ann.PeerID}
			tor.Seeders.Put(key, peer)
			inserted = true
			seeding = true
			deltaS++
		}
	default:
		if p, found := tor.Seeders.Get(key); found {
			peer = p
			seeding = true
		} else if p, found := tor.Leechers.Get(key); found {
			// Finished the download between announces.
			peer = p
			tor.Leechers.Delete(key)
			tor.Seeders.Put(key, peer)
			seeding = true
			peerChanged = true
			deltaL--
			deltaS++
		} else {
			peer = &models.Peer{User: user, ID: ann.PeerID}
			tor.Seeders.Put(key, peer)
			inserted = true
			seeding = true
			deltaS++
		}
	}

	_, tokenUsed := tor.TokenedUsers[user.ID]

	if inserted || started {
		peer.Uploaded = ann.Uploaded
		peer.Downloaded = ann.Downloaded
		peer.Corrupt = ann.Corrupt
		peer.Left = ann.Left
		peer.UpSpeed = 0
		peer.DownSpeed = 0
		peer.FirstAnnounced = now
		peer.LastAnnounced = 0
		peer.Announces = 1
		peerChanged = true
	} else if ann.Uploaded < peer.Uploaded || ann.Downloaded < peer.Downloaded {
		// Client restarted its counters; resync without crediting.
		peer.Announces++
		peer.Uploaded = ann.Uploaded
		peer.Downloaded = ann.Downloaded
		peer.Corrupt = ann.Corrupt
		peer.Left = ann.Left
		peerChanged = true
	} else {
		upDelta := ann.Uploaded - peer.Uploaded
		downDelta := ann.Downloaded - peer.Downloaded
		var corruptDelta uint64
		if ann.Corrupt > peer.Corrupt {
			corruptDelta = ann.Corrupt - peer.Corrupt
		}
		peer.Announces++

		if upDelta > 0 || downDelta > 0 || corruptDelta > 0 {
			tor.Balance += int64(upDelta) - int64(downDelta) - int64(corruptDelta)
			updateTorrent = true
		}
		if now > peer.LastAnnounced {
			dt := uint64(now - peer.LastAnnounced)
			peer.UpSpeed = upDelta / dt
			peer.DownSpeed = downDelta / dt
		}
		peer.Uploaded = ann.Uploaded
		peer.Downloaded = ann.Downloaded
		peer.Corrupt = ann.Corrupt
		peer.Left = ann.Left

		userUp, userDown := upDelta, downDelta
		switch {
		case tor.FreeTorrent == models.NeutralLeech:
			userUp, userDown = 0, 0
		case tor.FreeTorrent == models.FreeLeech || tokenUsed:
			if tokenUsed && (upDelta > 0 || downDelta > 0) {
				expireToken = true
				pend.tokens = append(pend.tokens, database.TokenRecord{
					UserID: user.ID, TorrentID: tor.ID, Downloaded: downDelta,
				})
			}
			userDown = 0
		}
		if userUp > 0 || userDown > 0 {
			pend.users = append(pend.users, database.UserRecord{
				ID: user.ID, Uploaded: userUp, Downloaded: userDown,
			})
		}
	}

	if inserted || ann.Port != peer.Port || ann.IP != peer.IP {
		peer.Port = ann.Port
		peer.IP = ann.IP
		peer.IPPort = ""
		peer.InvalidIP = true
		if ip := net.ParseIP(ann.IP); ip != nil {
			if v4 := ip.To4(); v4 != nil &&
				!ip.IsLoopback() && !ip.IsUnspecified() && !ip.IsPrivate() &&
				!ip.IsLinkLocalUnicast() && !ip.IsLinkLocalMulticast() {
				var b [6]byte
				copy(b[:4], v4)
				binary.BigEndian.PutUint16(b[4:], ann.Port)
				peer.IPPort = string(b[:])
				peer.InvalidIP = false
			}
		}
		peerChanged = true
	}

	recIP := peer.IP
	if user.Protect {
		recIP = ""
	}

	if completedTorrent {
		snatched = true
		tor.Completed++
		updateTorrent = true
		peerChanged = true
		pend.snatches = append(pend.snatches, database.SnatchRecord{
			UserID: user.ID, TorrentID: tor.ID, Time: now, IP: recIP,
		})
		tor.Leechers.Delete(key)
		tor.Seeders.Put(key, peer)
		seeding = true
		deltaL--
		deltaS++
		if expireToken {
			delete(tor.TokenedUsers, user.ID)
			pend.expiries = append(pend.expiries, [2]uint64{tor.ID, user.ID})
		}
	}

	if stoppedEvent {
		stopped = true
		peerChanged = true
		if seeding {
			tor.Seeders.Delete(key)
			deltaS--
		} else {
			tor.Leechers.Delete(key)
			deltaL--
		}
	}

	peer.Visible = (peer.Left == 0 || user.Leech) && !peer.InvalidIP

	pend.peers = append(pend.peers, database.PeerRecord{
		Heavy:      peerChanged,
		UserID:     user.ID,
		TorrentID:  tor.ID,
		Active:     !stopped,
		Uploaded:   peer.Uploaded,
		Downloaded: peer.Downloaded,
		UpSpeed:    peer.UpSpeed,
		DownSpeed:  peer.DownSpeed,
		Remaining:  peer.Left,
		Corrupt:    peer.Corrupt,
		Timespent:  uint64(now - peer.FirstAnnounced),
		Announced:  peer.Announces,
		IP:         recIP,
		PeerID:     ann.PeerID,
		UserAgent:  ann.UserAgent,
		Mtime:      now,
	})

	peer.LastAnnounced = now

	if deltaL != 0 {
		atomic.AddInt64(&peer.User.Leeching, int64(deltaL))
		atomic.AddInt64(&tr.stats.Leechers, int64(deltaL))
		updateTorrent = true
	}
	if deltaS != 0 {
		atomic.AddInt64(&peer.User.Seeding, int64(deltaS))
		atomic.AddInt64(&tr.stats.Seeders, int64(deltaS))
		updateTorrent = true
	}

	// A reload can rebuild the user for this account. The old struct
	// settles its deltas above; the unit the peer occupies now moves to
	// the announcing struct, decided by where left puts the peer.
	if peer.User != user {
		if !stopped {
			if ann.Left > 0 {
				atomic.AddInt64(&peer.User.Leeching, -1)
				atomic.AddInt64(&user.Leeching, 1)
			} else {
				atomic.AddInt64(&peer.User.Seeding, -1)
				atomic.AddInt64(&user.Seeding, 1)
			}
		}
		peer.User = user
	}

	numwant := tr.cfg.Tracker.NumwantLimit
	if ann.NumWantSet && ann.NumWant < numwant {
		numwant = ann.NumWant
	}
	leechForbidden := ann.Left > 0 && !user.Leech
	if stopped || leechForbidden {
		numwant = 0
	}

	var peersBuf strings.Builder
	if numwant > 0 {
		count := 0
		if seeding {
			// Seeders only need leechers.
			tor.Leechers.Range(func(_ string, p *models.Peer) bool {
				if count >= numwant {
					return false
				}
				if p.User.ID == user.ID || !p.Visible || p.User.Deleted || p.IPPort == peer.IPPort {
					return true
				}
				peersBuf.WriteString(p.IPPort)
				count++
				return true
			})
		} else {
			// Rotate through the seeders so the same ones are not
			// handed out every time.
			last := ""
			tor.Seeders.Walk(tor.LastSelectedSeeder, func(k string, p *models.Peer) bool {
				if count >= numwant {
					return false
				}
				if p.User.ID == user.ID || !p.Visible || p.User.Deleted {
					return true
				}
				peersBuf.WriteString(p.IPPort)
				count++
				last = k
				return true
			})
			if last != "" {
				tor.LastSelectedSeeder = last
			}
			if count < numwant {
				tor.Leechers.Range(func(_ string, p *models.Peer) bool {
					if count >= numwant {
						return false
					}
					if p.User.ID == user.ID || !p.Visible || p.User.Deleted || p.IPPort == peer.IPPort {
						return true
					}
					peersBuf.WriteString(p.IPPort)
					count++
					return true
				})
			}
		}
	}

	if updateTorrent || tor.LastFlushed+3600 < now {
		tor.LastFlushed = now
		var snatchDelta uint64
		if snatched {
			snatchDelta = 1
		}
		pend.torrents = append(pend.torrents, database.TorrentRecord{
			ID:       tor.ID,
			Seeders:  tor.Seeders.Len(),
			Leechers: tor.Leechers.Len(),
			Snatched: snatchDelta,
			Balance:  tor.Balance,
		})
	}

	interval := tr.AnnounceInterval()
	spread := int64(tor.Seeders.Len())
	if spread > 600 {
		spread = 600
	}
	out := &models.AnnounceOutput{
		Complete:    tor.Seeders.Len(),
		Incomplete:  tor.Leechers.Len(),
		Downloaded:  tor.Completed,
		Interval:    interval + spread,
		MinInterval: interval,
		Peers:       peersBuf.String(),
	}
	if peer.InvalidIP {
		out.Warning = "Illegal character found in IP address. IPv6 is not supported"
	}
	tr.TorrentsMutex.Unlock()

	tr.emit(pend)

	if leechForbidden {
		return nil, models.ClientError("Access denied, leeching forbidden")
	}
	return out, nil
}
