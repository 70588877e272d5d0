package signal

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/protocol"
)

// Assembler reassembles relayed chunks. The server does not guarantee
// in-order arrival, so chunks are held until the gap before them fills
// and delivered strictly in index order, each exactly once.
type Assembler struct {
	mu       sync.Mutex
	total    int
	chunks   [][]byte
	received []bool
	next     int
	deliver  func(index int, data []byte)
}

// NewAssembler creates an Assembler. deliver, when non-nil, is called
// once per chunk in index order as gaps fill.
func NewAssembler(deliver func(index int, data []byte)) *Assembler {
	return &Assembler{total: -1, deliver: deliver}
}

// Add accepts one chunk. Out-of-order chunks are buffered; duplicates
// are ignored. Returns true once every chunk has arrived.
func (a *Assembler) Add(chunk protocol.RelayChunk) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if chunk.Total <= 0 {
		return false, fmt.Errorf("invalid chunk total %d", chunk.Total)
	}
	if a.total == -1 {
		a.total = chunk.Total
		a.chunks = make([][]byte, a.total)
		a.received = make([]bool, a.total)
	}
	if chunk.Total != a.total {
		return false, fmt.Errorf("chunk total changed: %d != %d", chunk.Total, a.total)
	}
	if chunk.Index < 0 || chunk.Index >= a.total {
		return false, fmt.Errorf("chunk index %d out of range [0,%d)", chunk.Index, a.total)
	}
	// Receipt is tracked separately from the payload so an empty chunk
	// still advances the prefix.
	if a.received[chunk.Index] {
		return a.completeLocked(), nil
	}

	a.chunks[chunk.Index] = chunk.Chunk
	a.received[chunk.Index] = true

	// Flush the contiguous prefix.
	for a.next < a.total && a.received[a.next] {
		if a.deliver != nil {
			a.deliver(a.next, a.chunks[a.next])
		}
		a.next++
	}
	return a.completeLocked(), nil
}

func (a *Assembler) completeLocked() bool {
	return a.total != -1 && a.next == a.total
}

// Complete reports whether every chunk has arrived.
func (a *Assembler) Complete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completeLocked()
}

// Bytes returns the reassembled payload. Fails until Complete.
func (a *Assembler) Bytes() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.completeLocked() {
		return nil, fmt.Errorf("assembly incomplete: %d of %d chunks", a.next, a.total)
	}
	var buf bytes.Buffer
	for _, chunk := range a.chunks {
		buf.Write(chunk)
	}
	return buf.Bytes(), nil
}
