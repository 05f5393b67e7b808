package database

import "github.com/pkg/errors"

// TorrentRow is one torrents row as loaded for the swarm cache.
type TorrentRow struct {
	ID          uint64 `db:"ID"`
	InfoHash    []byte `db:"info_hash"`
	FreeTorrent string `db:"freetorrent"`
	Snatched    uint64 `db:"Snatched"`
}

// UserRow is one enabled account. Protected folds the site's "hide my
// IP" settings into a single flag.
type UserRow struct {
	ID        uint64 `db:"ID"`
	CanLeech  bool   `db:"can_leech"`
	Passkey   string `db:"torrent_pass"`
	Protected bool   `db:"Protected"`
}

// TokenRow is one active freeleech token.
type TokenRow struct {
	UserID    uint64 `db:"UserID"`
	TorrentID uint64 `db:"TorrentID"`
}

// LoadTorrents reads every torrent.
func (db *Database) LoadTorrents() ([]TorrentRow, error) {
	var rows []TorrentRow
	err := db.conn.Select(&rows,
		"SELECT ID, info_hash, freetorrent, Snatched FROM torrents")
	return rows, errors.Wrap(err, "database: load torrents")
}

// LoadUsers reads every enabled account.
func (db *Database) LoadUsers() ([]UserRow, error) {
	var rows []UserRow
	err := db.conn.Select(&rows,
		"SELECT ID, can_leech, torrent_pass,"+
			" (Visible = '0' OR IP = '127.0.0.1') AS Protected"+
			" FROM users_main WHERE Enabled = '1'")
	return rows, errors.Wrap(err, "database: load users")
}

// LoadTokens reads active freeleech tokens.
func (db *Database) LoadTokens() ([]TokenRow, error) {
	var rows []TokenRow
	err := db.conn.Select(&rows,
		"SELECT UserID, TorrentID FROM users_freeleeches WHERE Expired = '0'")
	return rows, errors.Wrap(err, "database: load tokens")
}

// LoadWhitelist reads the client whitelist prefixes. An empty list
// disables whitelist enforcement.
func (db *Database) LoadWhitelist() ([]string, error) {
	var rows []string
	err := db.conn.Select(&rows, "SELECT peer_id FROM xbt_client_whitelist")
	return rows, errors.Wrap(err, "database: load whitelist")
}

// ResetPeerData clears persisted peer state at startup. Peers
// re-register themselves on their next announce.
func (db *Database) ResetPeerData() error {
	if db.readonly {
		return nil
	}
	if _, err := db.exec.Exec("TRUNCATE xbt_files_users"); err != nil {
		return errors.Wrap(err, "database: truncate peers")
	}
	if _, err := db.exec.Exec("UPDATE torrents SET Seeders = 0, Leechers = 0"); err != nil {
		return errors.Wrap(err, "database: reset swarm counts")
	}
	return nil
}
