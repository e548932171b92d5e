package wire

import "testing"

func TestHeaderMarshalRoundTrip(t *testing.T) {
	f := NewRequest(42, 7, uint16(CmdUpdate), 5000, false, []byte("payload"))
	buf := f.Marshal()

	h, err := Unmarshal(buf[:HeaderLen])
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if h.ID != 42 || h.GroupID != 7 || h.Command != uint16(CmdUpdate) {
		t.Errorf("round trip mismatch: %+v", h)
	}
	if !h.IsRequest() || h.IsResponse() || h.IsUrgent() {
		t.Errorf("flag decode wrong: %08b", h.Flags)
	}
	if h.TotalLen != uint32(HeaderLen+len("payload")) {
		t.Errorf("TotalLen = %d", h.TotalLen)
	}
}

func TestHeaderChecksumDetectsCorruption(t *testing.T) {
	f := NewRequest(1, 1, uint16(CmdLoadRange), 0, true, nil)
	buf := f.Marshal()
	buf[12] ^= 0xff // flip a byte inside the ID field

	if _, err := Unmarshal(buf[:HeaderLen]); err != ErrHeaderChecksum {
		t.Fatalf("expected ErrHeaderChecksum, got %v", err)
	}
}

func TestUrgentFlag(t *testing.T) {
	f := NewRequest(1, 1, uint16(CmdCompact), 0, true, nil)
	if !f.Header.IsUrgent() {
		t.Error("urgent flag not set")
	}
}

func TestPayloadChecksumVerify(t *testing.T) {
	f := NewResponse(3, 3, uint16(CmdGetStatistics), []byte("stats"))
	if !f.VerifyPayload() {
		t.Fatal("payload checksum should verify")
	}
	f.Payload[0] ^= 0xff
	if f.VerifyPayload() {
		t.Fatal("payload checksum should fail after corruption")
	}
}

func TestCommandString(t *testing.T) {
	if CmdUpdate.String() != "update" {
		t.Errorf("String() = %q", CmdUpdate.String())
	}
	if Command(9999).String() != "unknown_command" {
		t.Errorf("unknown command should stringify to unknown_command")
	}
}

func TestCommandIsReplay(t *testing.T) {
	for _, c := range []Command{CmdReplayBegin, CmdReplayLoadRange, CmdReplayUpdate, CmdReplayCommit} {
		if !c.IsReplay() {
			t.Errorf("%s should be a replay command", c)
		}
	}
	if CmdUpdate.IsReplay() {
		t.Error("update should not be a replay command")
	}
}
