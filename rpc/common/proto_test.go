package common

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/marlinkv/marlin/lib/cluster"
)

// TestSlotRanges tests decoding flat slot pairs back into range form
func TestSlotRanges(t *testing.T) {
	testCases := []struct {
		name      string
		slots     []uint32
		expected  cluster.SlotRanges
		expectErr bool
	}{
		{
			name:     "Empty",
			slots:    nil,
			expected: cluster.SlotRanges{},
		},
		{
			name:  "SinglePair",
			slots: []uint32{0, 16383},
			expected: cluster.SlotRanges{
				{Start: 0, End: 16383},
			},
		},
		{
			name:  "MultiplePairs",
			slots: []uint32{0, 100, 200, 300},
			expected: cluster.SlotRanges{
				{Start: 0, End: 100},
				{Start: 200, End: 300},
			},
		},
		{
			name:      "OddBoundCount",
			slots:     []uint32{0, 100, 200},
			expectErr: true,
		},
		{
			name:      "StartAfterEnd",
			slots:     []uint32{100, 50},
			expectErr: true,
		},
		{
			name:      "EndBeyondSlotSpace",
			slots:     []uint32{0, 20000},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := Message{MsgType: MsgTMigrateConf, Slots: tc.slots}
			ranges, err := msg.SlotRanges()

			if tc.expectErr {
				if err == nil {
					t.Errorf("Expected error for slots %v", tc.slots)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !reflect.DeepEqual(ranges, tc.expected) {
				t.Errorf("SlotRanges() = %v, want %v", ranges, tc.expected)
			}
		})
	}
}

// TestSlotRangesRoundTrip tests that the handshake factory flattens ranges
// so they decode back unchanged
func TestSlotRangesRoundTrip(t *testing.T) {
	ranges := cluster.SlotRanges{
		{Start: 0, End: 4095},
		{Start: 8192, End: 16383},
	}

	msg := NewMigrateConfRequest("10.0.0.2", 6379, ranges)
	if msg.MsgType != MsgTMigrateConf {
		t.Errorf("MsgType = %v, want MsgTMigrateConf", msg.MsgType)
	}
	if msg.Host != "10.0.0.2" || msg.Port != 6379 {
		t.Errorf("Destination = %s:%d, want 10.0.0.2:6379", msg.Host, msg.Port)
	}

	decoded, err := msg.SlotRanges()
	if err != nil {
		t.Fatalf("Failed to decode ranges: %v", err)
	}
	if !reflect.DeepEqual(decoded, ranges) {
		t.Errorf("Ranges don't survive the round trip: %v != %v", decoded, ranges)
	}
}

// TestMessageTypeJSON tests the string form of MessageType in JSON
func TestMessageTypeJSON(t *testing.T) {
	names := map[MessageType]string{
		MsgTAck:         "ack",
		MsgTError:       "error",
		MsgTMigrateConf: "migrateConf",
		MsgTMigrateFlow: "migrateFlow",
		MsgTFullSyncCut: "fullSyncCut",
		MsgTRestore:     "restore",
		MsgTJournal:     "journal",
		MsgTCommand:     "command",
	}

	for msgType, name := range names {
		data, err := json.Marshal(msgType)
		if err != nil {
			t.Fatalf("Failed to marshal %s: %v", name, err)
		}
		if string(data) != `"`+name+`"` {
			t.Errorf("Marshaled %s as %s", name, data)
		}

		var decoded MessageType
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("Failed to unmarshal %s: %v", name, err)
		}
		if decoded != msgType {
			t.Errorf("Round trip of %s yields %s", name, decoded)
		}
	}
}

// TestMessageTypeJSONInvalid tests rejection of unknown type names
func TestMessageTypeJSONInvalid(t *testing.T) {
	var msgType MessageType

	if err := json.Unmarshal([]byte(`"handshake"`), &msgType); err == nil {
		t.Error("Unknown type name accepted")
	}
	if err := json.Unmarshal([]byte(`3`), &msgType); err == nil {
		t.Error("Numeric type accepted")
	}
}

// TestFactoryFunctions tests the frame factories
func TestFactoryFunctions(t *testing.T) {
	t.Run("MigrateConfResponse", func(t *testing.T) {
		msg := NewMigrateConfResponse(42, 8, nil)
		if msg.MsgType != MsgTMigrateConf || msg.SyncID != 42 || msg.ShardID != 8 {
			t.Errorf("Unexpected frame: %+v", msg)
		}
		if msg.Err != "" {
			t.Errorf("Err = %q on a clean response", msg.Err)
		}

		failed := NewMigrateConfResponse(0, 0, errors.New("slots not owned"))
		if failed.Err != "slots not owned" {
			t.Errorf("Err = %q, want the handshake error", failed.Err)
		}
	})

	t.Run("MigrateFlowRequest", func(t *testing.T) {
		msg := NewMigrateFlowRequest(42, 3)
		if msg.MsgType != MsgTMigrateFlow || msg.SyncID != 42 || msg.ShardID != 3 {
			t.Errorf("Unexpected frame: %+v", msg)
		}
	})

	t.Run("RestoreMessage", func(t *testing.T) {
		msg := NewRestoreMessage(2, "key", 1, 0, []byte("v"), true, 1000)
		if msg.MsgType != MsgTRestore {
			t.Errorf("MsgType = %v, want MsgTRestore", msg.MsgType)
		}
		if msg.DbIndex != 2 || msg.Key != "key" || msg.ObjType != 1 || !msg.Sticky || msg.ExpireAtMs != 1000 {
			t.Errorf("Unexpected frame: %+v", msg)
		}
	})

	t.Run("JournalMessage", func(t *testing.T) {
		msg := NewJournalMessage(1, "SET", []string{"k", "v"})
		if msg.MsgType != MsgTJournal || msg.DbIndex != 1 || msg.Cmd != "SET" {
			t.Errorf("Unexpected frame: %+v", msg)
		}
		if !reflect.DeepEqual(msg.Args, []string{"k", "v"}) {
			t.Errorf("Args = %v", msg.Args)
		}
	})

	t.Run("FullSyncCut", func(t *testing.T) {
		msg := NewFullSyncCutMessage(42, 5)
		if msg.MsgType != MsgTFullSyncCut || msg.SyncID != 42 || msg.ShardID != 5 {
			t.Errorf("Unexpected frame: %+v", msg)
		}
	})

	t.Run("CommandRequestAndResponse", func(t *testing.T) {
		req := NewCommandRequest("DFLYCLUSTER", "GETSLOTINFO", "SLOTS", "1")
		if req.MsgType != MsgTCommand || req.Cmd != "DFLYCLUSTER" || len(req.Args) != 3 {
			t.Errorf("Unexpected frame: %+v", req)
		}

		resp := NewCommandResponse([]string{"line1", "line2"}, nil)
		if resp.MsgType != MsgTCommand || len(resp.Lines) != 2 || resp.Err != "" {
			t.Errorf("Unexpected frame: %+v", resp)
		}

		failed := NewCommandResponse(nil, errors.New("unknown command"))
		if failed.Err != "unknown command" {
			t.Errorf("Err = %q", failed.Err)
		}
	})

	t.Run("AckResponse", func(t *testing.T) {
		ok := NewAckResponse(nil)
		if ok.MsgType != MsgTAck || !ok.Ok || ok.Err != "" {
			t.Errorf("Unexpected frame: %+v", ok)
		}

		failed := NewAckResponse(errors.New("flow unknown"))
		if failed.Ok || failed.Err != "flow unknown" {
			t.Errorf("Unexpected frame: %+v", failed)
		}
	})

	t.Run("ErrorResponse", func(t *testing.T) {
		msg := NewErrorResponse("boom")
		if msg.MsgType != MsgTError || msg.Err != "boom" {
			t.Errorf("Unexpected frame: %+v", msg)
		}
	})
}

// TestMessageTypeString tests the symbolic names including the unknown case
func TestMessageTypeString(t *testing.T) {
	if MsgTUnknown.String() != "unknown" {
		t.Errorf("MsgTUnknown.String() = %q", MsgTUnknown.String())
	}
	if MessageType(200).String() != "unknown" {
		t.Errorf("Out-of-range type renders as %q", MessageType(200).String())
	}
}
