package traffic

import "firestige.xyz/netraffic/internal/capture"

// Snapshot is the aggregate of the packets a worker has counted.
type Snapshot struct {
	Total     uint64 `json:"total" yaml:"total"`         // cumulative wire bytes
	Len       uint64 `json:"len" yaml:"len"`             // wire length of the last counted packet
	Timestamp uint64 `json:"timestamp" yaml:"timestamp"` // sum of capture-time seconds, not a wall clock
}

// add folds one packet into the snapshot.
func (s *Snapshot) add(hdr capture.PacketHeader) {
	n := uint64(hdr.Length)
	s.Total += n
	s.Len = n
	if sec := hdr.Timestamp.Unix(); sec > 0 {
		s.Timestamp += uint64(sec)
	}
}
