package dispatch

import (
	"fmt"

	"github.com/danmuck/pars/internal/transport"
)

// SlotKind distinguishes local threads from remote connections.
type SlotKind uint8

const (
	SlotLocal SlotKind = iota
	SlotRemote
)

func (k SlotKind) String() string {
	if k == SlotRemote {
		return "remote"
	}
	return "local"
}

// Slot is one execution unit. It runs at most one line at a time.
type Slot struct {
	ID        int
	Kind      SlotKind
	Target    string
	Index     int
	Transport transport.Transport
}

func (s *Slot) String() string {
	if s.Kind == SlotRemote {
		return fmt.Sprintf("remote[%s#%d]", s.Target, s.Index)
	}
	return fmt.Sprintf("local[%d]", s.Index)
}

// LocalSlots builds n slots sharing one local transport.
func LocalSlots(n int, tr transport.Transport) []*Slot {
	slots := make([]*Slot, 0, n)
	for i := 0; i < n; i++ {
		slots = append(slots, &Slot{Kind: SlotLocal, Index: i, Transport: tr})
	}
	return slots
}

// RemoteSlots builds one slot per connected remote thread.
func RemoteSlots(remotes []transport.Remote) []*Slot {
	slots := make([]*Slot, 0, len(remotes))
	for _, r := range remotes {
		slots = append(slots, &Slot{
			Kind:      SlotRemote,
			Target:    r.Target.String(),
			Index:     r.Index,
			Transport: r.Transport,
		})
	}
	return slots
}
