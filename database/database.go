// Package database implements write-behind persistence against the
// gazelle MySQL schema. Request handlers buffer records in memory;
// per-lane writer goroutines drain them as multi-row statements so a
// slow database never blocks an announce.
package database

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/serval/serval/config"
	"github.com/serval/serval/pkg/log"
)

// execer is the write surface the flush lanes need. *sqlx.DB satisfies
// it; tests substitute a recorder.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Database owns the MySQL connection and the write-behind lanes.
type Database struct {
	conn *sqlx.DB
	exec execer

	readonly bool

	bufMu        sync.Mutex
	userBuf      []UserRecord
	torrentBuf   []TorrentRecord
	snatchBuf    []SnatchRecord
	peerHeavyBuf []PeerRecord
	peerLightBuf []PeerRecord
	tokenBuf     []TokenRecord

	users    *lane
	torrents *lane
	snatches *lane
	peers    *lane
	tokens   *lane

	done chan struct{}
	wg   sync.WaitGroup
}

// Open connects to MySQL and verifies the connection.
func Open(cfg *config.Config) (*Database, error) {
	conn, err := sqlx.Connect("mysql", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "database: connect")
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxLifetime(30 * time.Minute)

	db := newDatabase(conn, cfg.Debug.Readonly)
	db.conn = conn
	return db, nil
}

func newDatabase(exec execer, readonly bool) *Database {
	return &Database{
		exec:     exec,
		readonly: readonly,
		users:    newLane("users", false),
		torrents: newLane("torrents", false),
		snatches: newLane("snatches", false),
		peers:    newLane("peers", true),
		tokens:   newLane("tokens", false),
		done:     make(chan struct{}),
	}
}

func (db *Database) lanes() []*lane {
	return []*lane{db.users, db.torrents, db.snatches, db.peers, db.tokens}
}

// Start launches the lane writers.
func (db *Database) Start() {
	for _, l := range db.lanes() {
		db.wg.Add(1)
		go db.writer(l)
	}
}

// Close flushes outstanding buffers, lets the writers drain their
// queues, then stops them and closes the connection.
func (db *Database) Close() error {
	db.Flush()
	db.waitDrained(30 * time.Second)
	close(db.done)
	for _, l := range db.lanes() {
		l.signal()
	}
	db.wg.Wait()
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *Database) waitDrained(limit time.Duration) {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		empty := true
		for _, l := range db.lanes() {
			if l.depth() > 0 {
				empty = false
				break
			}
		}
		if empty {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	log.Warn("database: shutdown drain timed out, discarding queued batches")
}
