package tracker

import "github.com/serval/serval/models"

// Scrape returns swarm summaries for the requested info hashes.
// Unknown hashes are omitted from the result.
func (tr *Tracker) Scrape(infoHashes []string) map[string]models.ScrapeFile {
	out := make(map[string]models.ScrapeFile, len(infoHashes))
	tr.TorrentsMutex.RLock()
	for _, ih := range infoHashes {
		if tor, ok := tr.Torrents[ih]; ok {
			out[ih] = models.ScrapeFile{
				Complete:   tor.Seeders.Len(),
				Incomplete: tor.Leechers.Len(),
				Downloaded: tor.Completed,
			}
		}
	}
	tr.TorrentsMutex.RUnlock()
	return out
}
