package database

import (
	"strings"

	"github.com/serval/serval/pkg/log"
)

// writer drains one lane. A failed batch stays at the head of the
// queue and is retried on the next wake, so transient database outages
// lose nothing until the queue saturates.
func (db *Database) writer(l *lane) {
	defer db.wg.Done()
	for {
		select {
		case <-l.wake:
			db.drain(l)
		case <-db.done:
			return
		}
	}
}

func (db *Database) drain(l *lane) {
	for {
		batch := l.peek()
		if batch == nil {
			return
		}
		query, args := buildBatch(batch)
		if query == "" {
			l.pop()
			continue
		}
		if _, err := db.exec.Exec(query, args...); err != nil {
			log.Error("database: flush failed", log.Fields{
				"lane": l.name,
				"rows": len(batch),
			}, log.Err(err))
			return
		}
		if extra := batchFollowup(batch); extra != "" {
			if _, err := db.exec.Exec(extra); err != nil {
				log.Error("database: followup failed", log.Fields{"lane": l.name}, log.Err(err))
			}
		}
		l.pop()
	}
}

// buildBatch renders a homogeneous batch into one multi-row statement.
func buildBatch(batch []interface{}) (string, []interface{}) {
	switch batch[0].(type) {
	case UserRecord:
		return buildUsers(batch)
	case TorrentRecord:
		return buildTorrents(batch)
	case SnatchRecord:
		return buildSnatches(batch)
	case PeerRecord:
		return buildPeers(batch)
	case TokenRecord:
		return buildTokens(batch)
	}
	return "", nil
}

// batchFollowup returns a statement to run after a batch commits.
// Torrent upserts can resurrect rows the site already deleted; those
// ghosts have an empty info_hash and are swept immediately.
func batchFollowup(batch []interface{}) string {
	if _, ok := batch[0].(TorrentRecord); ok {
		return "DELETE FROM torrents WHERE info_hash = ''"
	}
	return ""
}

func placeholders(rows, cols int) string {
	one := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	var b strings.Builder
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(one)
	}
	return b.String()
}

func buildUsers(batch []interface{}) (string, []interface{}) {
	args := make([]interface{}, 0, len(batch)*3)
	for _, v := range batch {
		r := v.(UserRecord)
		args = append(args, r.ID, r.Uploaded, r.Downloaded)
	}
	query := "INSERT INTO users_main (ID, Uploaded, Downloaded) VALUES " +
		placeholders(len(batch), 3) +
		" ON DUPLICATE KEY UPDATE Uploaded = Uploaded + VALUES(Uploaded)," +
		" Downloaded = Downloaded + VALUES(Downloaded)"
	return query, args
}

func buildTorrents(batch []interface{}) (string, []interface{}) {
	args := make([]interface{}, 0, len(batch)*5)
	for _, v := range batch {
		r := v.(TorrentRecord)
		args = append(args, r.ID, r.Seeders, r.Leechers, r.Snatched, r.Balance)
	}
	query := "INSERT INTO torrents (ID, Seeders, Leechers, Snatched, Balance) VALUES " +
		placeholders(len(batch), 5) +
		" ON DUPLICATE KEY UPDATE Seeders = VALUES(Seeders), Leechers = VALUES(Leechers)," +
		" Snatched = Snatched + VALUES(Snatched), Balance = VALUES(Balance)," +
		" last_action = IF(VALUES(Seeders) > 0, NOW(), last_action)"
	return query, args
}

func buildSnatches(batch []interface{}) (string, []interface{}) {
	args := make([]interface{}, 0, len(batch)*4)
	for _, v := range batch {
		r := v.(SnatchRecord)
		args = append(args, r.UserID, r.TorrentID, r.Time, r.IP)
	}
	query := "INSERT INTO xbt_snatched (uid, fid, tstamp, IP) VALUES " +
		placeholders(len(batch), 4)
	return query, args
}

func buildPeers(batch []interface{}) (string, []interface{}) {
	if batch[0].(PeerRecord).Heavy {
		return buildPeersHeavy(batch)
	}
	return buildPeersLight(batch)
}

func buildPeersHeavy(batch []interface{}) (string, []interface{}) {
	args := make([]interface{}, 0, len(batch)*15)
	for _, v := range batch {
		r := v.(PeerRecord)
		active := 0
		if r.Active {
			active = 1
		}
		args = append(args, r.UserID, r.TorrentID, active,
			r.Uploaded, r.Downloaded, r.UpSpeed, r.DownSpeed,
			r.Remaining, r.Corrupt, r.Timespent, r.Announced,
			r.IP, r.PeerID, r.UserAgent, r.Mtime)
	}
	query := "INSERT INTO xbt_files_users (uid, fid, active, uploaded, downloaded," +
		" upspeed, downspeed, remaining, corrupt, timespent, announced, ip, peer_id," +
		" useragent, mtime) VALUES " +
		placeholders(len(batch), 15) +
		" ON DUPLICATE KEY UPDATE active = VALUES(active), uploaded = VALUES(uploaded)," +
		" downloaded = VALUES(downloaded), upspeed = VALUES(upspeed)," +
		" downspeed = VALUES(downspeed), remaining = VALUES(remaining)," +
		" corrupt = VALUES(corrupt), timespent = VALUES(timespent)," +
		" announced = VALUES(announced), ip = VALUES(ip), mtime = VALUES(mtime)"
	return query, args
}

// buildPeersLight refreshes bookkeeping for peers whose transfer state
// did not change. Speeds are zeroed so an idle peer does not keep its
// last burst forever.
func buildPeersLight(batch []interface{}) (string, []interface{}) {
	args := make([]interface{}, 0, len(batch)*6)
	for _, v := range batch {
		r := v.(PeerRecord)
		args = append(args, r.UserID, r.TorrentID, r.Timespent, r.Announced, r.PeerID, r.Mtime)
	}
	query := "INSERT INTO xbt_files_users (uid, fid, timespent, announced, peer_id, mtime) VALUES " +
		placeholders(len(batch), 6) +
		" ON DUPLICATE KEY UPDATE upspeed = 0, downspeed = 0," +
		" timespent = VALUES(timespent), announced = VALUES(announced), mtime = VALUES(mtime)"
	return query, args
}

func buildTokens(batch []interface{}) (string, []interface{}) {
	args := make([]interface{}, 0, len(batch)*3)
	for _, v := range batch {
		r := v.(TokenRecord)
		args = append(args, r.UserID, r.TorrentID, r.Downloaded)
	}
	query := "INSERT INTO users_freeleeches (UserID, TorrentID, Downloaded) VALUES " +
		placeholders(len(batch), 3)
	return query, args
}
