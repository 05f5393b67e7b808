package site

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serval/serval/config"
	"github.com/serval/serval/pkg/log"
)

func init() {
	log.Discard()
}

func newTestClient(url string) *Client {
	c := New(config.Default())
	c.baseURL = url + "?tokens="
	return c
}

func TestExpireTokenBuffersCSV(t *testing.T) {
	c := newTestClient("http://unused")
	c.ExpireToken(10, 3)
	c.ExpireToken(11, 3)

	assert.Equal(t, "3:10,3:11", c.buffer)
	assert.Empty(t, c.queue)
}

func TestExpireTokenSealsPastThreshold(t *testing.T) {
	c := newTestClient("http://unused")
	for i := 0; i < 40; i++ {
		c.ExpireToken(uint64(100000+i), 123456)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.NotEmpty(t, c.queue)
}

func TestFlushSealsBuffer(t *testing.T) {
	c := newTestClient("http://unused")
	c.ExpireToken(10, 3)
	c.Flush()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.buffer)
	require.Len(t, c.queue, 1)
	assert.Equal(t, "3:10", c.queue[0])
}

func TestDeliverAllPopsOnSuccess(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.URL.Query().Get("tokens"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.ExpireToken(10, 3)
	c.Flush()
	c.deliverAll()

	require.Len(t, got, 1)
	assert.Equal(t, "3:10", got[0])
	assert.Empty(t, c.queue)
}

func TestDeliverAllRetriesUntilAccepted(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.ExpireToken(10, 3)
	c.Flush()
	c.deliverAll()

	assert.Equal(t, 3, hits)
	assert.Empty(t, c.queue)
}

func TestReadonlyDiscardsExpiries(t *testing.T) {
	cfg := config.Default()
	cfg.Debug.Readonly = true
	c := New(cfg)
	c.ExpireToken(10, 3)

	assert.Empty(t, c.buffer)
}

func TestBaseURLShape(t *testing.T) {
	cfg := config.Default()
	cfg.Gazelle.SiteHost = "site.example"
	cfg.Gazelle.SitePassword = "secret"
	c := New(cfg)

	// The site is always spoken to over TLS at its tools endpoint.
	assert.True(t, strings.HasPrefix(c.baseURL,
		"https://site.example/tools.php?key=secret&type=expiretoken&action=ocelot&tokens="))
}
