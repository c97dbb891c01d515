package messages

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	me := Identity{IP: "127.0.0.1", Port: 9000, Name: "alice"}
	if err := WriteFrame(&buf, NewHello(me)); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	payload, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hello, ok := msg.(*Hello)
	if !ok {
		t.Fatalf("expected *Hello, got %T", msg)
	}
	if !hello.Identity.Equal(me) || hello.Identity.Name != "alice" {
		t.Fatalf("identity did not survive the round trip: %+v", hello.Identity)
	}
}

// A frame must reassemble no matter how the transport fragments it.
func TestFrameSegmentedReads(t *testing.T) {
	var buf bytes.Buffer
	msgs := []Message{
		NewProposeMove("req-1", 2, 3),
		NewCommitMove(2, 3, "X", 1),
	}
	for _, m := range msgs {
		if err := WriteFrame(&buf, m); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	r := iotest.OneByteReader(&buf)
	for i, want := range msgs {
		payload, err := ReadFrame(r)
		if err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		got, err := Decode(payload)
		if err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}
		if got.Kind() != want.Kind() {
			t.Fatalf("frame %d: expected %s, got %s", i, want.Kind(), got.Kind())
		}
	}
}

func TestFrameTooLarge(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	_, err := ReadFrame(bytes.NewReader(header[:]))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeUnknownMethod(t *testing.T) {
	_, err := Decode([]byte(`{"method":"no_such_method"}`))
	if err == nil || !strings.Contains(err.Error(), "no_such_method") {
		t.Fatalf("expected unknown method error, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{"method":`)); err == nil {
		t.Fatalf("expected error for truncated JSON")
	}
	if _, err := Decode([]byte(`{"method":"propose_move","location":"nope"}`)); err == nil {
		t.Fatalf("expected error for mistyped payload")
	}
}

func TestReplyCorrelation(t *testing.T) {
	replies := []Reply{
		NewValidateSymbol("id-1", true),
		NewValidateMove("id-2", false, "", 0),
		&GameState{Method: MethodGameState, RequestID: "id-3"},
	}
	want := []string{"id-1", "id-2", "id-3"}
	for i, r := range replies {
		if r.Correlation() != want[i] {
			t.Fatalf("reply %d: expected correlation %q, got %q", i, want[i], r.Correlation())
		}
	}
}

func TestNewRequestIDUnique(t *testing.T) {
	if NewRequestID() == NewRequestID() {
		t.Fatalf("request ids must differ across calls")
	}
}
