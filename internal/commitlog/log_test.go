package commitlog

import (
	"context"
	"testing"

	"github.com/hypertable-go/rangeserver/internal/dfs"
	"github.com/hypertable-go/rangeserver/internal/dfs/localfs"
)

func TestAppendAndReplay(t *testing.T) {
	ctx := context.Background()
	fs, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	log, err := Open(ctx, fs, "/log/t1", 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	payloads := [][]byte{[]byte("first update"), []byte("second update"), []byte("third")}
	for i, p := range payloads {
		if _, err := log.Append(ctx, uint64(i+1), p); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got [][]byte
	err = Replay(ctx, fs, "/log/t1", func(revision uint64, payload []byte) error {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		got = append(got, cp)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != len(payloads) {
		t.Fatalf("got %d blocks, want %d", len(got), len(payloads))
	}
	for i := range payloads {
		if string(got[i]) != string(payloads[i]) {
			t.Errorf("block %d = %q, want %q", i, got[i], payloads[i])
		}
	}
}

func TestRollsAtSizeThreshold(t *testing.T) {
	ctx := context.Background()
	fs, _ := localfs.New(t.TempDir())
	log, err := Open(ctx, fs, "/log/t2", 64)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := log.Append(ctx, uint64(i), make([]byte, 32)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if len(log.Fragments()) < 2 {
		t.Fatalf("expected multiple fragments after rolling, got %d", len(log.Fragments()))
	}
}

func TestPurgeStopsAtLinkedFragment(t *testing.T) {
	ctx := context.Background()
	fs, _ := localfs.New(t.TempDir())
	log, err := Open(ctx, fs, "/log/t3", 16)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	seqs := make([]int64, 0, 5)
	for i := 0; i < 5; i++ {
		seq, err := log.Append(ctx, uint64(i), make([]byte, 16))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		seqs = append(seqs, seq)
	}
	log.Link(seqs[1])

	purged, err := log.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected to purge exactly the fragment before the linked one, got %d", purged)
	}
}

func TestBlockChecksumDetectsCorruption(t *testing.T) {
	b := &block{Revision: 1, Payload: []byte("some payload data")}
	enc := b.encode()
	enc[len(enc)-1] ^= 0xff

	if _, _, err := decodeBlock(enc); err == nil {
		t.Fatal("expected checksum mismatch to be detected")
	}
}

func TestErasureCodingReconstructsCorruptFragment(t *testing.T) {
	ctx := context.Background()
	fs, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}

	// rollLimit of 1 byte forces every Append after the first to roll a
	// fresh fragment, so the second Append seals the first fragment (and
	// writes its parity).
	log, err := Open(ctx, fs, "/log/ec", 1, WithErasureCoding(4, 2))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := log.Append(ctx, 1, []byte("payload that will be parity protected")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := log.Append(ctx, 2, []byte("second fragment, rolls the first")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	frags := log.Fragments()
	if len(frags) < 2 {
		t.Fatalf("expected at least 2 fragments, got %d", len(frags))
	}
	sealed := frags[0]

	rf, err := fs.Open(ctx, sealed.Path+".parity")
	if err != nil {
		t.Fatalf("expected parity sidecar for sealed fragment: %v", err)
	}
	rf.Close()

	origFile, err := fs.Open(ctx, sealed.Path)
	if err != nil {
		t.Fatalf("open sealed fragment: %v", err)
	}
	data, err := readAll(origFile)
	origFile.Close()
	if err != nil {
		t.Fatalf("read sealed fragment: %v", err)
	}
	data[len(data)-1] ^= 0xff
	wf, err := fs.Create(ctx, sealed.Path, dfs.FlagCreate|dfs.FlagOverwrite)
	if err != nil {
		t.Fatalf("rewrite sealed fragment: %v", err)
	}
	if _, err := wf.Write(data); err != nil {
		t.Fatalf("write corrupted fragment: %v", err)
	}
	wf.Close()

	coder, err := NewErasureCoder(4, 2)
	if err != nil {
		t.Fatalf("NewErasureCoder: %v", err)
	}

	var replayed []string
	err = ReplayErasureCoded(ctx, fs, "/log/ec", coder, func(revision uint64, payload []byte) error {
		replayed = append(replayed, string(payload))
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayErasureCoded: %v", err)
	}
	if len(replayed) != 2 {
		t.Fatalf("expected both blocks recovered via parity, got %d: %v", len(replayed), replayed)
	}
	if replayed[0] != "payload that will be parity protected" {
		t.Fatalf("unexpected reconstructed payload: %q", replayed[0])
	}
}
