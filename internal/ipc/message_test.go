package ipc

import (
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Envelope{
		NewRequest(1, "ping", map[string]any{"a": float64(1)}),
		NewResponse(1, map[string]any{"pong": true}),
		NewError(2, CodeNotFound, "unknown method"),
		NewNotification("statusChanged", map[string]any{"name": "indexer"}),
	}

	for _, env := range cases {
		t.Run(string(env.Type), func(t *testing.T) {
			frame, err := Encode(env)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if len(frame) == 0 {
				t.Fatal("expected non-empty frame")
			}

			res, err := Decode(frame)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if res == nil {
				t.Fatal("expected a decoded result")
			}
			if res.Envelope.Type != env.Type {
				t.Fatalf("type mismatch: got %s want %s", res.Envelope.Type, env.Type)
			}
			if res.BytesConsumed != len(frame) {
				t.Fatalf("bytes consumed %d != frame length %d", res.BytesConsumed, len(frame))
			}
		})
	}
}

func TestDecodeAllConcatenatedFrames(t *testing.T) {
	var buf []byte
	n := 5
	for i := 0; i < n; i++ {
		frame, err := Encode(NewRequest(uint64(i), "method", nil))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		buf = append(buf, frame...)
	}

	envs, consumed, err := DecodeAll(buf)
	if err != nil {
		t.Fatalf("decode all: %v", err)
	}
	if len(envs) != n {
		t.Fatalf("expected %d envelopes, got %d", n, len(envs))
	}
	if consumed != len(buf) {
		t.Fatalf("expected to consume entire buffer (%d bytes), consumed %d", len(buf), consumed)
	}
}

func TestDecodeIncompleteFrameReturnsNil(t *testing.T) {
	frame, err := Encode(NewRequest(1, "ping", nil))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	res, err := Decode(frame[:len(frame)-1])
	if err != nil {
		t.Fatalf("decode partial frame should not error: %v", err)
	}
	if res != nil {
		t.Fatal("expected nil result for an incomplete frame")
	}
}

func TestEncodeOversizeReturnsEmpty(t *testing.T) {
	huge := strings.Repeat("x", MaxMessageSize+1)
	frame, err := Encode(NewRequest(1, "huge", map[string]any{"payload": huge}))
	if err != nil {
		t.Fatalf("encode should not error on oversize, got %v", err)
	}
	if len(frame) != 0 {
		t.Fatal("expected empty frame for oversize message")
	}
}

func TestDecodeOversizeLengthPrefixErrors(t *testing.T) {
	buf := make([]byte, 4)
	buf[0] = 0xFF
	buf[1] = 0xFF
	buf[2] = 0xFF
	buf[3] = 0xFF

	_, err := Decode(buf)
	if err == nil {
		t.Fatal("expected an error for an oversize length prefix")
	}
}

func TestErrorCodeStringStability(t *testing.T) {
	cases := map[ErrorCode]string{
		CodeInvalidRequest:     "InvalidRequest",
		CodeNotFound:           "NotFound",
		CodeInvalidParams:      "InvalidParams",
		CodeInternalError:      "InternalError",
		CodeServiceUnavailable: "ServiceUnavailable",
		CodeTimeout:            "Timeout",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("code %d: got %q want %q", code, got, want)
		}
	}
}
