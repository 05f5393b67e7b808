// Package site notifies the gazelle frontend when freeleech tokens are
// spent. Expiries are batched into a CSV buffer and delivered by a
// background worker that retries until the site accepts them.
package site

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/serval/serval/config"
	"github.com/serval/serval/pkg/log"
)

// flushThreshold is the buffer length past which a batch is sealed
// without waiting for the next scheduler tick.
const flushThreshold = 350

// Client batches token expiries toward the site.
type Client struct {
	baseURL  string
	readonly bool

	http *http.Client

	mu     sync.Mutex
	buffer string
	queue  []string

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a Client from the gazelle section of the configuration.
func New(cfg *config.Config) *Client {
	return &Client{
		baseURL: fmt.Sprintf("https://%s%s?key=%s&type=expiretoken&action=ocelot&tokens=",
			cfg.Gazelle.SiteHost, cfg.Gazelle.SitePath,
			url.QueryEscape(cfg.Gazelle.SitePassword)),
		readonly: cfg.Debug.Readonly,
		http:     &http.Client{Timeout: 15 * time.Second},
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.worker()
}

// Close seals the buffer and stops the worker after a best-effort
// final delivery.
func (c *Client) Close() {
	c.Flush()
	close(c.done)
	c.signal()
	c.wg.Wait()
}

// ExpireToken queues a token expiry for userID on torrentID. Oversized
// buffers are sealed immediately.
func (c *Client) ExpireToken(torrentID, userID uint64) {
	if c.readonly {
		return
	}
	entry := strconv.FormatUint(userID, 10) + ":" + strconv.FormatUint(torrentID, 10)

	c.mu.Lock()
	if c.buffer != "" {
		c.buffer += ","
	}
	c.buffer += entry
	seal := len(c.buffer) > flushThreshold
	if seal {
		c.queue = append(c.queue, c.buffer)
		c.buffer = ""
	}
	c.mu.Unlock()

	if seal {
		c.signal()
	}
}

// Flush seals the current buffer into the delivery queue.
func (c *Client) Flush() {
	c.mu.Lock()
	if c.buffer != "" {
		c.queue = append(c.queue, c.buffer)
		c.buffer = ""
	}
	pending := len(c.queue) > 0
	c.mu.Unlock()

	if pending {
		c.signal()
	}
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.wake:
			c.deliverAll()
		case <-c.done:
			c.deliverAll()
			return
		}
	}
}

// deliverAll sends queued batches in order. A batch is only removed
// after the site answers 200; failures back off and retry, except
// during shutdown where the batch is abandoned.
func (c *Client) deliverAll() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		batch := c.queue[0]
		c.mu.Unlock()

		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 0
		delivered := false
		for !delivered {
			if err := c.deliver(batch); err != nil {
				log.Warn("site: token expiry delivery failed", log.Err(err))
				select {
				case <-time.After(bo.NextBackOff()):
				case <-c.done:
					log.Error("site: abandoning token expiry batch on shutdown",
						log.Fields{"tokens": batch})
					return
				}
				continue
			}
			delivered = true
		}

		c.mu.Lock()
		c.queue = c.queue[1:]
		c.mu.Unlock()
	}
}

func (c *Client) deliver(batch string) error {
	resp, err := c.http.Get(c.baseURL + batch)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("site answered %d", resp.StatusCode)
	}
	return nil
}
