// Package models defines the in-memory entities the tracker operates
// on. These structs are shared between the request handlers and the
// background workers, so the locking rules described on each type
// matter.
package models

import "fmt"

// ClientError is a failure that is the client's fault and is reported
// back in the bencoded "failure reason" field.
type ClientError string

// Error implements the error interface for ClientError.
func (e ClientError) Error() string { return string(e) }

// LeechType is a torrent's freeleech mode.
type LeechType int

const (
	// NormalLeech counts both upload and download.
	NormalLeech LeechType = iota
	// FreeLeech does not count download.
	FreeLeech
	// NeutralLeech counts neither upload nor download.
	NeutralLeech
)

// LeechTypeFromString maps the database representation onto a
// LeechType. Unknown values behave as normal.
func LeechTypeFromString(s string) LeechType {
	switch s {
	case "1":
		return FreeLeech
	case "2":
		return NeutralLeech
	default:
		return NormalLeech
	}
}

// User is a registered account. Leeching and Seeding are mutated with
// sync/atomic since torrent-level work only holds the torrents lock.
type User struct {
	ID      uint64
	Leech   bool
	Protect bool

	Leeching int64
	Seeding  int64

	// Deleted marks a user evicted during a reload while peers still
	// reference it.
	Deleted bool
}

// Peer is one participant in a swarm.
type Peer struct {
	User *User

	ID string

	Uploaded   uint64
	Downloaded uint64
	Corrupt    uint64
	Left       uint64

	UpSpeed   uint64
	DownSpeed uint64

	FirstAnnounced int64
	LastAnnounced  int64
	Announces      uint64

	IP   string
	Port uint16

	// IPPort is the 4-byte IPv4 address plus big-endian port, ready
	// for compact responses. Empty when the address is unusable.
	IPPort    string
	InvalidIP bool

	Visible bool
}

// Torrent is one swarm. All fields are guarded by the tracker's
// torrents lock except where noted.
type Torrent struct {
	ID        uint64
	Completed uint64
	Balance   int64

	FreeTorrent LeechType

	Seeders  *PeerMap
	Leechers *PeerMap

	// LastSelectedSeeder is the key of the last seeder handed out, so
	// consecutive announces rotate through the seeder set.
	LastSelectedSeeder string

	// TokenedUsers holds user IDs with an active freeleech token.
	TokenedUsers map[uint64]struct{}

	LastFlushed int64
}

// NewTorrent returns a Torrent with initialized peer maps.
func NewTorrent(id uint64) *Torrent {
	return &Torrent{
		ID:           id,
		Seeders:      NewPeerMap(),
		Leechers:     NewPeerMap(),
		TokenedUsers: make(map[uint64]struct{}),
	}
}

// DelReason records why a torrent was deleted, so announces against it
// can explain themselves for a while.
type DelReason struct {
	Reason int
	Time   int64
}

// DelReasonString renders a deletion reason code for clients. Codes
// outside the table fall back to a generic message.
func DelReasonString(code int) string {
	if code >= 0 && code < len(delReasons) {
		return delReasons[code]
	}
	return fmt.Sprintf("Unknown reason %d", code)
}

var delReasons = []string{
	"Dead",
	"Dupe",
	"Trump",
	"Bad File Names",
	"Bad Folder Names",
	"Bad Tags",
	"Bad Format",
	"Discs Missing",
	"Discography",
	"Edited Log",
	"Inaccurate Bitrate",
	"Low Bitrate",
	"Mutt Rip",
	"Bad Source",
	"Encode Errors",
	"Banned",
	"Tracks Missing",
	"Transcode",
	"Cassette",
	"Unsplit Album",
	"User Compilation",
	"Wrong Format",
	"Wrong Media",
	"Audience Recording",
}

// Announce is a parsed announce request.
type Announce struct {
	Passkey  string
	InfoHash string
	PeerID   string

	Port       uint16
	Uploaded   uint64
	Downloaded uint64
	Corrupt    uint64
	Left       uint64

	Event string

	NumWant    int
	NumWantSet bool

	Compact bool

	IP        string
	UserAgent string
}

// AnnounceOutput is the data a successful announce responds with.
type AnnounceOutput struct {
	Complete   int
	Incomplete int
	Downloaded uint64

	Interval    int64
	MinInterval int64

	// Peers is a compact peer string, 6 bytes per peer.
	Peers string

	Warning string
}

// ScrapeFile is the per-torrent section of a scrape response.
type ScrapeFile struct {
	Complete   int
	Incomplete int
	Downloaded uint64
}
