package tracker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serval/serval/models"
)

type testParams map[string]string

func (p testParams) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

func TestUpdateUnknownActionStillAcknowledges(t *testing.T) {
	tr, _, _, _ := newTestTracker()
	assert.Equal(t, "success", tr.Update(testParams{"action": "frobnicate"}))
}

func TestUpdateChangePasskey(t *testing.T) {
	tr, _, _, _ := newTestTracker()
	u := addUser(tr, "oldkey", 1)

	resp := tr.Update(testParams{
		"action": "change_passkey", "oldpasskey": "oldkey", "newpasskey": "newkey",
	})
	assert.Equal(t, "success", resp)

	_, ok := tr.FindUser("oldkey")
	assert.False(t, ok)
	got, ok := tr.FindUser("newkey")
	require.True(t, ok)
	assert.Same(t, u, got)
}

func TestUpdateAddAndRemoveUser(t *testing.T) {
	tr, _, _, _ := newTestTracker()

	tr.Update(testParams{"action": "add_user", "passkey": "k1", "id": "42", "visible": "0"})
	u, ok := tr.FindUser("k1")
	require.True(t, ok)
	assert.Equal(t, uint64(42), u.ID)
	assert.True(t, u.Leech)
	// Hidden profiles keep their IP out of peer rows.
	assert.True(t, u.Protect)

	tr.Update(testParams{"action": "remove_user", "passkey": "k1"})
	_, ok = tr.FindUser("k1")
	assert.False(t, ok)
	assert.True(t, u.Deleted)
}

func TestUpdateRemoveUsersPacked(t *testing.T) {
	tr, _, _, _ := newTestTracker()
	k1 := strings.Repeat("a", 32)
	k2 := strings.Repeat("b", 32)
	addUser(tr, k1, 1)
	addUser(tr, k2, 2)

	tr.Update(testParams{"action": "remove_users", "passkeys": k1 + k2})

	assert.Empty(t, tr.Users)
}

func TestUpdateRemoveUsersRejectsRaggedPayload(t *testing.T) {
	tr, _, _, _ := newTestTracker()
	k1 := strings.Repeat("a", 32)
	addUser(tr, k1, 1)

	tr.Update(testParams{"action": "remove_users", "passkeys": k1 + "short"})

	// Nothing is removed when the blob does not slice evenly.
	assert.Len(t, tr.Users, 1)
}

func TestUpdateUser(t *testing.T) {
	tr, _, _, _ := newTestTracker()
	u := addUser(tr, "k", 1)

	tr.Update(testParams{"action": "update_user", "passkey": "k", "can_leech": "0", "visible": "0"})
	assert.False(t, u.Leech)
	assert.True(t, u.Protect)

	tr.Update(testParams{"action": "update_user", "passkey": "k", "can_leech": "1", "visible": "1"})
	assert.True(t, u.Leech)
	assert.False(t, u.Protect)
}

func TestUpdateAddTorrent(t *testing.T) {
	tr, _, _, _ := newTestTracker()

	tr.Update(testParams{
		"action": "add_torrent", "info_hash": testHash, "id": "10", "freetorrent": "1",
	})

	tor, ok := tr.Torrents[testHash]
	require.True(t, ok)
	assert.Equal(t, uint64(10), tor.ID)
	assert.Equal(t, models.FreeLeech, tor.FreeTorrent)
}

func TestUpdateAddTorrentClearsDelReason(t *testing.T) {
	tr, _, _, _ := newTestTracker()
	user := addUser(tr, "k", 1)
	addTorrent(tr, testHash, 10)

	tr.Update(testParams{"action": "delete_torrent", "info_hash": testHash, "reason": "1"})
	tr.Update(testParams{"action": "add_torrent", "info_hash": testHash, "id": "10", "freetorrent": "0"})

	_, err := tr.Announce(newAnnounce(peerIDOne), user)
	assert.NoError(t, err)
}

func TestUpdateTorrentsPacked(t *testing.T) {
	tr, _, _, _ := newTestTracker()
	other := "bbbbbbbbbbbbbbbbbbbb"
	t1 := addTorrent(tr, testHash, 10)
	t2 := addTorrent(tr, other, 11)

	tr.Update(testParams{
		"action": "update_torrents", "info_hashes": testHash + other, "freetorrent": "2",
	})

	assert.Equal(t, models.NeutralLeech, t1.FreeTorrent)
	assert.Equal(t, models.NeutralLeech, t2.FreeTorrent)
}

func TestUpdateDeleteTorrentReturnsCounters(t *testing.T) {
	tr, _, _, _ := newTestTracker()
	user := addUser(tr, "k", 1)
	addTorrent(tr, testHash, 10)

	_, err := tr.Announce(newAnnounce(peerIDOne), user)
	require.NoError(t, err)

	tr.Update(testParams{"action": "delete_torrent", "info_hash": testHash, "reason": "0"})

	assert.NotContains(t, tr.Torrents, testHash)
	assert.Equal(t, int64(0), user.Leeching)
	assert.Equal(t, int64(0), tr.stats.Leechers)
}

func TestAddTokenRemovesTokenedUser(t *testing.T) {
	tr, _, _, _ := newTestTracker()
	tor := addTorrent(tr, testHash, 10)

	// The site's add/remove calls have always been swapped; both ends
	// rely on it staying that way.
	tr.Update(testParams{"action": "remove_token", "info_hash": testHash, "userid": "5"})
	assert.Contains(t, tor.TokenedUsers, uint64(5))

	tr.Update(testParams{"action": "add_token", "info_hash": testHash, "userid": "5"})
	assert.NotContains(t, tor.TokenedUsers, uint64(5))
}

func TestUpdateWhitelist(t *testing.T) {
	tr, _, _, _ := newTestTracker()

	tr.Update(testParams{"action": "add_whitelist", "peer_id": "-TR"})
	tr.Update(testParams{"action": "add_whitelist", "peer_id": "-UT"})
	assert.Equal(t, []string{"-TR", "-UT"}, tr.Whitelist)

	tr.Update(testParams{"action": "edit_whitelist", "old_peer_id": "-UT", "new_peer_id": "-DE"})
	assert.Equal(t, []string{"-TR", "-DE"}, tr.Whitelist)

	tr.Update(testParams{"action": "remove_whitelist", "peer_id": "-TR"})
	assert.Equal(t, []string{"-DE"}, tr.Whitelist)
}

func TestUpdateAnnounceInterval(t *testing.T) {
	tr, _, _, _ := newTestTracker()

	tr.Update(testParams{"action": "update_announce_interval", "announce_interval": "900"})
	assert.Equal(t, int64(900), tr.AnnounceInterval())

	tr.Update(testParams{"action": "update_announce_interval", "announce_interval": "bogus"})
	assert.Equal(t, int64(900), tr.AnnounceInterval())
}
