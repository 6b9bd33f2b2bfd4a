package agentlog

import (
	"container/ring"
	"sync"
)

// Ring retains the last `size` log lines, adapted from pkg/minilog.Ring
// (same container/ring-backed fixed retention), trimmed
// of the timestamp-formatting duplicated by agentLogger.log's own prologue.
type Ring struct {
	size int

	mu sync.Mutex
	r  *ring.Ring
}

func NewRing(size int) *Ring {
	return &Ring{
		r:    ring.New(size),
		size: size,
	}
}

func (l *Ring) Println(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.r = l.r.Next()
	l.r.Value = line
}

// Dump returns the retained lines from oldest to newest.
func (l *Ring) Dump() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := make([]string, 0, l.size)

	l.r.Next().Do(func(v interface{}) {
		if v == nil {
			return
		}
		res = append(res, v.(string))
	})

	return res
}
