package server

import (
	"bytes"
	"net/http"

	"github.com/chihaya/bencode"

	"github.com/serval/serval/models"
)

// writeError bencodes a failure reason. The inflated intervals tell
// the client to go away for a while instead of hammering the tracker.
func writeError(w http.ResponseWriter, message string) int {
	return writeDict(w, bencode.Dict{
		"failure reason": message,
		"interval":       5400,
		"min interval":   5400,
	})
}

func writeAnnounce(w http.ResponseWriter, out *models.AnnounceOutput) int {
	dict := bencode.Dict{
		"complete":     out.Complete,
		"incomplete":   out.Incomplete,
		"downloaded":   out.Downloaded,
		"interval":     out.Interval,
		"min interval": out.MinInterval,
		"peers":        out.Peers,
	}
	if out.Warning != "" {
		dict["warning message"] = out.Warning
	}
	return writeDict(w, dict)
}

func writeScrape(w http.ResponseWriter, files map[string]models.ScrapeFile) int {
	filesDict := bencode.NewDict()
	for ih, f := range files {
		filesDict[ih] = bencode.Dict{
			"complete":   f.Complete,
			"downloaded": f.Downloaded,
			"incomplete": f.Incomplete,
		}
	}
	return writeDict(w, bencode.Dict{"files": filesDict})
}

// writeDict bencodes via a buffer so the byte count is known and a
// half-written response never escapes on encoder failure.
func writeDict(w http.ResponseWriter, dict bencode.Dict) int {
	var buf bytes.Buffer
	if err := bencode.NewEncoder(&buf).Encode(dict); err != nil {
		return 0
	}
	n, _ := w.Write(buf.Bytes())
	return n
}

func writeText(w http.ResponseWriter, text string) int {
	n, _ := w.Write([]byte(text))
	return n
}
