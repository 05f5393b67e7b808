package models

import "container/list"

// PeerMap is an insertion-ordered collection of peers keyed by the
// tracker's peer key. Updating an existing key keeps its position, so
// rotation cursors into the map stay meaningful across announces.
//
// PeerMap is not safe for concurrent use; callers hold the torrents
// lock.
type PeerMap struct {
	order *list.List
	index map[string]*list.Element
}

type peerEntry struct {
	key  string
	peer *Peer
}

// NewPeerMap returns an empty PeerMap.
func NewPeerMap() *PeerMap {
	return &PeerMap{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Len returns the number of peers in the map.
func (pm *PeerMap) Len() int {
	return pm.order.Len()
}

// Get returns the peer for key, if present.
func (pm *PeerMap) Get(key string) (*Peer, bool) {
	el, ok := pm.index[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*peerEntry).peer, true
}

// Put inserts or replaces the peer for key. New keys append to the
// back; existing keys keep their position.
func (pm *PeerMap) Put(key string, p *Peer) {
	if el, ok := pm.index[key]; ok {
		el.Value.(*peerEntry).peer = p
		return
	}
	pm.index[key] = pm.order.PushBack(&peerEntry{key: key, peer: p})
}

// Delete removes key from the map if present.
func (pm *PeerMap) Delete(key string) {
	if el, ok := pm.index[key]; ok {
		delete(pm.index, key)
		pm.order.Remove(el)
	}
}

// Range calls fn for every peer in insertion order until fn returns
// false.
func (pm *PeerMap) Range(fn func(key string, p *Peer) bool) {
	for el := pm.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*peerEntry)
		if !fn(e.key, e.peer) {
			return
		}
		el = next
	}
}

// Walk calls fn for every peer, starting after the peer with key
// `after` and wrapping around, visiting each peer at most once. When
// `after` is absent the walk starts at the front. fn returning false
// stops the walk.
func (pm *PeerMap) Walk(after string, fn func(key string, p *Peer) bool) {
	start := pm.order.Front()
	if el, ok := pm.index[after]; ok {
		if next := el.Next(); next != nil {
			start = next
		}
	}
	if start == nil {
		return
	}

	for el := start; el != nil; el = el.Next() {
		e := el.Value.(*peerEntry)
		if !fn(e.key, e.peer) {
			return
		}
	}
	for el := pm.order.Front(); el != nil && el != start; el = el.Next() {
		e := el.Value.(*peerEntry)
		if !fn(e.key, e.peer) {
			return
		}
	}
}
