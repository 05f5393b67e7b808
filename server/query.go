package server

import (
	"net/url"
	"strconv"

	"github.com/pkg/errors"
)

// query is a parsed announce query string. The standard library's
// url.ParseQuery mangles the raw binary info_hash and peer_id values,
// so parsing works on the raw bytes instead.
type query struct {
	// Infohashes collects every info_hash value, in order, for
	// multi-hash scrapes.
	Infohashes []string
	params     map[string]string
}

// Get implements tracker.Params.
func (q *query) Get(key string) (string, bool) {
	v, ok := q.params[key]
	return v, ok
}

func (q *query) Uint64(key string) (uint64, bool) {
	s, ok := q.params[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (q *query) Uint16(key string) (uint16, bool) {
	s, ok := q.params[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

// Empty reports whether the query carried no parameters at all.
func (q *query) Empty() bool {
	return len(q.params) == 0
}

// parseQuery parses a raw URL query.
func parseQuery(raw string) (*query, error) {
	var (
		keyStart, keyEnd int
		valStart, valEnd int
		firstInfohash    string

		onKey       = true
		hasInfohash = false

		q = &query{params: make(map[string]string)}
	)

	for i, length := 0, len(raw); i < length; i++ {
		separator := raw[i] == '&' || raw[i] == ';' || raw[i] == '?'
		if separator || i == length-1 {
			if onKey {
				keyStart = i + 1
				continue
			}

			if i == length-1 && !separator {
				if raw[i] == '=' {
					continue
				}
				valEnd = i
			}

			keyStr, err := url.QueryUnescape(raw[keyStart : keyEnd+1])
			if err != nil {
				return nil, errors.Wrap(err, "query key")
			}
			valStr, err := url.QueryUnescape(raw[valStart : valEnd+1])
			if err != nil {
				return nil, errors.Wrap(err, "query value")
			}

			q.params[keyStr] = valStr

			if keyStr == "info_hash" {
				if hasInfohash {
					// Multiple infohashes
					if q.Infohashes == nil {
						q.Infohashes = []string{firstInfohash}
					}
					q.Infohashes = append(q.Infohashes, valStr)
				} else {
					firstInfohash = valStr
					hasInfohash = true
				}
			}

			onKey = true
			keyStart = i + 1
		} else if raw[i] == '=' {
			onKey = false
			valStart = i + 1
		} else if onKey {
			keyEnd = i
		} else {
			valEnd = i
		}
	}
	return q, nil
}
