package tracker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReapPeersRemovesStale(t *testing.T) {
	tr, rec, _, mock := newTestTracker()
	staleUser := addUser(tr, "s", 1)
	freshUser := addUser(tr, "f", 2)
	tor := addTorrent(tr, testHash, 10)

	_, err := tr.Announce(newAnnounce(peerIDOne), staleUser)
	require.NoError(t, err)

	// Past the timeout the second peer announces, the first does not.
	mock.Add(time.Duration(tr.cfg.Timers.PeersTimeout+10) * time.Second)
	_, err = tr.Announce(newAnnounce(peerIDTwo), freshUser)
	require.NoError(t, err)
	rec.reset()

	tr.ReapPeers()

	assert.Equal(t, 1, tor.Leechers.Len())
	assert.Equal(t, int64(0), atomic.LoadInt64(&staleUser.Leeching))
	assert.Equal(t, int64(1), atomic.LoadInt64(&freshUser.Leeching))
	assert.Equal(t, int64(1), atomic.LoadInt64(&tr.stats.Leechers))

	require.Len(t, rec.torrents, 1)
	assert.Equal(t, 1, rec.torrents[0].Leechers)
	assert.Equal(t, 0, rec.torrents[0].Seeders)
}

func TestReapPeersKeepsActiveSwarms(t *testing.T) {
	tr, rec, _, _ := newTestTracker()
	user := addUser(tr, "k", 1)
	tor := addTorrent(tr, testHash, 10)

	_, err := tr.Announce(newAnnounce(peerIDOne), user)
	require.NoError(t, err)
	rec.reset()

	tr.ReapPeers()

	assert.Equal(t, 1, tor.Leechers.Len())
	assert.Empty(t, rec.torrents)
}

func TestReapPeersHandlesSeeders(t *testing.T) {
	tr, _, _, mock := newTestTracker()
	user := addUser(tr, "k", 1)
	tor := addTorrent(tr, testHash, 10)

	seed := newAnnounce(peerIDOne)
	seed.Left = 0
	_, err := tr.Announce(seed, user)
	require.NoError(t, err)

	mock.Add(time.Duration(tr.cfg.Timers.PeersTimeout+10) * time.Second)
	tr.ReapPeers()

	assert.Equal(t, 0, tor.Seeders.Len())
	assert.Equal(t, int64(0), atomic.LoadInt64(&user.Seeding))
	assert.Equal(t, int64(0), atomic.LoadInt64(&tr.stats.Seeders))
}

func TestReapDelReasons(t *testing.T) {
	tr, _, _, mock := newTestTracker()
	addTorrent(tr, testHash, 10)
	tr.Update(testParams{"action": "delete_torrent", "info_hash": testHash, "reason": "1"})

	tr.ReapDelReasons()
	assert.Len(t, tr.delReasons, 1)

	mock.Add(time.Duration(tr.cfg.Timers.DelReasonLifetime+10) * time.Second)
	tr.ReapDelReasons()
	assert.Empty(t, tr.delReasons)
}
