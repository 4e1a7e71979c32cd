package domain

import "sync"

// RecentWindow keeps the ids of the last N records created, newest first,
// for one-click withdraw.
type RecentWindow struct {
	mu   sync.Mutex
	size int
	ids  []string
}

func NewRecentWindow(size int) *RecentWindow {
	if size < 1 {
		size = 1
	}
	return &RecentWindow{size: size}
}

// Push records id as the newest entry, evicting the oldest beyond size.
func (w *RecentWindow) Push(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ids = append([]string{id}, w.ids...)
	if len(w.ids) > w.size {
		w.ids = w.ids[:w.size]
	}
}

func (w *RecentWindow) Remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, v := range w.ids {
		if v == id {
			w.ids = append(w.ids[:i], w.ids[i+1:]...)
			return
		}
	}
}

func (w *RecentWindow) Contains(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, v := range w.ids {
		if v == id {
			return true
		}
	}
	return false
}

// IDs returns a copy, newest first.
func (w *RecentWindow) IDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.ids...)
}
