package process

import (
	"fmt"

	"github.com/c9s/goprocinfo/linux"
)

// Stats is the fixed record MSG_QUERY_PROC_STATS returns (SPEC_FULL.md
// §10.1), grounded on github.com/c9s/goprocinfo -- a direct teacher
// dependency left unwired by the copied cmd/miniccc/internal/ron subset,
// now exercised here.
type Stats struct {
	UTime      uint64
	STime      uint64
	RSSPages   uint64
	NumThreads uint64
	State      byte
}

// QueryStats reads /proc/<pid>/stat for the given process, failing with
// ESRCH-shaped error if it is unknown or already reaped.
func (s *Supervisor) QueryStats(id uint64) (Stats, error) {
	d, ok := s.Registry.ByID(id)
	if !ok {
		return Stats{}, fmt.Errorf("process: %w", ErrUnknownProcess)
	}
	proc := d.(*Process)
	if !proc.Alive() {
		return Stats{}, fmt.Errorf("process: %w", ErrUnknownProcess)
	}

	stat, err := linux.ReadProcessStat(fmt.Sprintf("/proc/%d/stat", proc.Pid()))
	if err != nil {
		return Stats{}, fmt.Errorf("process: read stat: %w", err)
	}

	var stateByte byte
	if len(stat.State) > 0 {
		stateByte = stat.State[0]
	}

	return Stats{
		UTime:      stat.Utime,
		STime:      stat.Stime,
		RSSPages:   uint64(stat.Rss),
		NumThreads: uint64(stat.NumThreads),
		State:      stateByte,
	}, nil
}

// Encode packs Stats into the fixed binary record carried by
// RESP_OK_BYTES for MSG_QUERY_PROC_STATS.
func (st Stats) Encode() []byte {
	b := make([]byte, 8*4+1)
	putU64(b[0:8], st.UTime)
	putU64(b[8:16], st.STime)
	putU64(b[16:24], st.RSSPages)
	putU64(b[24:32], st.NumThreads)
	b[32] = st.State
	return b
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
