package commitlog

import (
	"bytes"

	"github.com/klauspost/reedsolomon"
)

// ErasureCoder optionally protects a sealed fragment's bytes with
// Reed-Solomon parity shards, for deployments that keep a single DFS
// replica (cheaper storage, more CPU) instead of HDFS's default triple
// replication. A Log with one configured (see WithErasureCoding) writes
// a ".parity" sidecar next to every fragment it rolls past, so a fragment
// whose primary copy fails its block checksum at replay time can be
// rebuilt from parity instead of simply truncating at the first torn
// block. Unused unless a Log is opened with WithErasureCoding.
type ErasureCoder struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewErasureCoder builds a coder with dataShards data and parityShards
// parity shards per stripe.
func NewErasureCoder(dataShards, parityShards int) (*ErasureCoder, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &ErasureCoder{enc: enc, dataShards: dataShards, parityShards: parityShards}, nil
}

// Encode splits payload into data+parity shards. Shards are padded with
// zeros to equal length, as reedsolomon requires.
func (c *ErasureCoder) Encode(payload []byte) ([][]byte, error) {
	shards, err := c.enc.Split(payload)
	if err != nil {
		return nil, err
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, err
	}
	return shards, nil
}

// Reconstruct repairs missing shards in place (nil entries are treated as
// lost) and reports whether the stripe was recoverable.
func (c *ErasureCoder) Reconstruct(shards [][]byte) (bool, error) {
	ok, err := c.enc.Verify(shards)
	if err == nil && ok {
		return true, nil
	}
	if err := c.enc.Reconstruct(shards); err != nil {
		return false, err
	}
	return true, nil
}

// Join reassembles shards back into the original payload of outSize bytes,
// the inverse of Encode/Split.
func (c *ErasureCoder) Join(shards [][]byte, outSize int) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.enc.Join(&buf, shards, outSize); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
