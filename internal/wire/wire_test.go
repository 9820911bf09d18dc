package wire

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func allContentVariants() []Content {
	return []Content{
		RegisterSimulator{Engine: "openmm"},
		SeedAssignment{
			SeedID:  "seed-1",
			Origin:  OriginInitial,
			Locator: Locator{Protocol: "localfs", Path: "/data/ala5.pdb"},
		},
		SeedAssignment{
			SeedID:  "seed-2",
			Origin:  "model-9",
			Locator: Locator{Protocol: "localfs", Path: "/trajs/t1.dcd"},
			Frame:   &FrameRef{TrajectoryID: "t1", FrameIndex: 42},
		},
		SimulatorDone{
			TrajectoryID: "t1",
			SeedID:       "seed-1",
			Locator:      Locator{Protocol: "localfs", Path: "/trajs/t1.dcd"},
		},
		RegisterModeler{},
		TrajectoryList{Trajectories: []TrajectoryEntry{
			{TrajectoryID: "t1", Locator: Locator{Protocol: "localfs", Path: "/trajs/t1.dcd"}, Round: 0},
			{TrajectoryID: "t2", Locator: Locator{Protocol: "s3", Path: "bucket/t2.dcd"}, Round: 1},
		}},
		ModelResult{
			ModelID:     "model-9",
			StateCount:  2,
			Populations: []float64{0.25, 0.75},
			StateFrames: [][]FrameRef{
				{{TrajectoryID: "t1", FrameIndex: 0}},
				{{TrajectoryID: "t2", FrameIndex: 5}, {TrajectoryID: "t2", FrameIndex: 9}},
			},
		},
		ErrorContent{Reason: "decode_error", Detail: "bad payload"},
		Acknowledge{Status: "ok"},
	}
}

func TestRoundTripAllTypes(t *testing.T) {
	for _, content := range allContentVariants() {
		msg := NewMessage("session-a", content)
		raw, err := Encode(msg)
		if err != nil {
			t.Fatalf("encode %s: %v", content.MsgType(), err)
		}
		decoded, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode %s: %v", content.MsgType(), err)
		}
		if !reflect.DeepEqual(decoded, msg) {
			t.Fatalf("%s round trip mismatch:\n got %#v\nwant %#v", content.MsgType(), decoded, msg)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	msg := NewMessage("session-a", ModelResult{
		ModelID:     "m",
		StateCount:  1,
		Populations: []float64{1},
		StateFrames: [][]FrameRef{{{TrajectoryID: "t", FrameIndex: 3}}},
	})
	first, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode again: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("encoding not deterministic:\n%s\n%s", first, second)
	}

	decoded, err := Decode(first)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reEncoded, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(first, reEncoded) {
		t.Fatalf("decode/encode not byte stable:\n%s\n%s", first, reEncoded)
	}
}

func TestReplyChainsParentHeader(t *testing.T) {
	req := NewMessage("worker-1", RegisterSimulator{})
	reply := NewReply("server-1", req, Acknowledge{Status: "ok"})
	if reply.ParentHeader == nil {
		t.Fatal("reply has no parent header")
	}
	if reply.ParentHeader.MsgID != req.Header.MsgID {
		t.Fatalf("parent msg_id = %s, want %s", reply.ParentHeader.MsgID, req.Header.MsgID)
	}
	if reply.Header.MsgID == req.Header.MsgID {
		t.Fatal("reply reused the request msg_id")
	}
	if reply.Header.Session != "server-1" {
		t.Fatalf("reply session = %s", reply.Header.Session)
	}
}

func TestDecodeFailsClosed(t *testing.T) {
	valid, err := Encode(NewMessage("s", SimulatorDone{
		TrajectoryID: "t1",
		Locator:      Locator{Protocol: "localfs", Path: "/t1.dcd"},
	}))
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "nope"},
		{"empty object", "{}"},
		{"missing msg_type", `{"header":{"msg_id":"a","session":"s","time":"2026-01-02T03:04:05Z"},"parent_header":null,"content":{}}`},
		{"missing msg_id", `{"header":{"msg_type":"register_modeler","session":"s","time":"2026-01-02T03:04:05Z"},"parent_header":null,"content":{}}`},
		{"missing session", `{"header":{"msg_id":"a","msg_type":"register_modeler","time":"2026-01-02T03:04:05Z"},"parent_header":null,"content":{}}`},
		{"unknown field in content", `{"header":{"msg_id":"a","msg_type":"register_modeler","session":"s","time":"2026-01-02T03:04:05Z"},"parent_header":null,"content":{"bogus":1}}`},
		{"wrong shape", strings.Replace(string(valid), `"trajectory_id":"t1"`, `"trajectory_id":17`, 1)},
		{"done without trajectory_id", strings.Replace(string(valid), `"trajectory_id":"t1"`, `"trajectory_id":""`, 1)},
		{"locator without protocol", strings.Replace(string(valid), `"protocol":"localfs"`, `"protocol":""`, 1)},
	}
	for _, tc := range cases {
		if _, err := Decode([]byte(tc.raw)); err == nil {
			t.Fatalf("%s: decode unexpectedly succeeded", tc.name)
		} else if !errors.Is(err, ErrDecode) {
			t.Fatalf("%s: error %v does not wrap ErrDecode", tc.name, err)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	raw := `{"header":{"msg_id":"a","msg_type":"make_coffee","session":"s","time":"2026-01-02T03:04:05Z"},"parent_header":null,"content":{}}`
	_, err := Decode([]byte(raw))
	if err == nil {
		t.Fatal("decode unexpectedly succeeded")
	}
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("error %v does not wrap ErrUnknownType", err)
	}
}

func TestDecodeModelResultShapeChecks(t *testing.T) {
	raw := `{"header":{"msg_id":"a","msg_type":"model_result","session":"s","time":"2026-01-02T03:04:05Z"},"parent_header":null,"content":` +
		`{"model_id":"m","state_count":3,"populations":[0.5,0.5],"state_frames":[[],[],[]]}}`
	if _, err := Decode([]byte(raw)); err == nil {
		t.Fatal("accepted model_result with population/state_count mismatch")
	}
	raw = `{"header":{"msg_id":"a","msg_type":"model_result","session":"s","time":"2026-01-02T03:04:05Z"},"parent_header":null,"content":` +
		`{"model_id":"m","state_count":2,"populations":[0.5,0.5],"state_frames":[[]]}}`
	if _, err := Decode([]byte(raw)); err == nil {
		t.Fatal("accepted model_result with frame list/state_count mismatch")
	}
}

func TestEncodeRejectsTypeMismatch(t *testing.T) {
	msg := NewMessage("s", Acknowledge{Status: "ok"})
	msg.Header.MsgType = TypeError
	if _, err := Encode(msg); err == nil {
		t.Fatal("encoded message whose header type disagrees with content")
	}
}
