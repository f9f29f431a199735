package cluster

import (
	"testing"

	"github.com/marlinkv/marlin/lib/core"
)

const (
	testMyID   = "1111111111111111111111111111111111111111"
	testPeerID = "2222222222222222222222222222222222222222"
)

func twoShardConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewConfig(testMyID, ConfigShards{
		{
			SlotRanges: SlotRanges{{Start: 0, End: 8000}},
			Master:     NodeInfo{ID: testMyID, IP: "10.0.0.1", Port: 6379},
		},
		{
			SlotRanges: SlotRanges{{Start: 8001, End: KMaxSlotNum}},
			Master:     NodeInfo{ID: testPeerID, IP: "10.0.0.2", Port: 6379},
			Replicas:   []NodeInfo{{ID: "replica-1", IP: "10.0.0.3", Port: 6379}},
		},
	})
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}
	return cfg
}

// TestNewConfigOwnership tests slot ownership of a valid two shard config
func TestNewConfigOwnership(t *testing.T) {
	cfg := twoShardConfig(t)

	if cfg.MyID() != testMyID {
		t.Errorf("MyID() = %s, want %s", cfg.MyID(), testMyID)
	}
	if cfg.IsEmulated() {
		t.Errorf("Explicit config reported as emulated")
	}

	if !cfg.IsMySlot(0) || !cfg.IsMySlot(8000) {
		t.Errorf("Expected slots 0 and 8000 to be owned")
	}
	if cfg.IsMySlot(8001) || cfg.IsMySlot(KMaxSlotNum) {
		t.Errorf("Expected slots above 8000 to be foreign")
	}
	if cfg.OwnedSlots().Count() != 8001 {
		t.Errorf("Expected 8001 owned slots, got %d", cfg.OwnedSlots().Count())
	}

	if m := cfg.MasterForSlot(100); m.ID != testMyID {
		t.Errorf("MasterForSlot(100) = %s, want local master", m.ID)
	}
	if m := cfg.MasterForSlot(9000); m.ID != testPeerID || m.Addr() != "10.0.0.2:6379" {
		t.Errorf("MasterForSlot(9000) = %s@%s, want peer", m.ID, m.Addr())
	}
}

// TestNewConfigValidation tests the rejection cases of NewConfig
func TestNewConfigValidation(t *testing.T) {
	requireInvalid := func(t *testing.T, shards ConfigShards) {
		t.Helper()
		_, err := NewConfig(testMyID, shards)
		if err == nil {
			t.Fatalf("Expected config to be rejected")
		}
		if !core.ErrInvalidConfig.Is(err) {
			t.Errorf("Expected an invalid-config error, got %v", err)
		}
	}

	t.Run("MissingMasterID", func(t *testing.T) {
		requireInvalid(t, ConfigShards{{
			SlotRanges: SlotRanges{{Start: 0, End: KMaxSlotNum}},
			Master:     NodeInfo{IP: "10.0.0.1", Port: 6379},
		}})
	})

	t.Run("InvalidRange", func(t *testing.T) {
		requireInvalid(t, ConfigShards{{
			SlotRanges: SlotRanges{{Start: 100, End: 99}, {Start: 0, End: KMaxSlotNum}},
			Master:     NodeInfo{ID: testMyID, IP: "10.0.0.1", Port: 6379},
		}})
	})

	t.Run("DoubleCoverage", func(t *testing.T) {
		requireInvalid(t, ConfigShards{
			{
				SlotRanges: SlotRanges{{Start: 0, End: 8000}},
				Master:     NodeInfo{ID: testMyID, IP: "10.0.0.1", Port: 6379},
			},
			{
				SlotRanges: SlotRanges{{Start: 8000, End: KMaxSlotNum}},
				Master:     NodeInfo{ID: testPeerID, IP: "10.0.0.2", Port: 6379},
			},
		})
	})

	t.Run("IncompleteCoverage", func(t *testing.T) {
		requireInvalid(t, ConfigShards{{
			SlotRanges: SlotRanges{{Start: 0, End: 8000}},
			Master:     NodeInfo{ID: testMyID, IP: "10.0.0.1", Port: 6379},
		}})
	})
}

// TestNewConfigFromJSON tests parsing of the wire representation
func TestNewConfigFromJSON(t *testing.T) {
	data := []byte(`[
		{
			"slot_ranges": [{"start": 0, "end": 16383}],
			"master": {"id": "` + testMyID + `", "ip": "10.0.0.1", "port": 6379},
			"replicas": []
		}
	]`)

	cfg, err := NewConfigFromJSON(testMyID, data)
	if err != nil {
		t.Fatalf("NewConfigFromJSON failed: %v", err)
	}
	if cfg.OwnedSlots().Count() != KSlotCount {
		t.Errorf("Expected all slots owned, got %d", cfg.OwnedSlots().Count())
	}

	if _, err := NewConfigFromJSON(testMyID, []byte("not json")); err == nil {
		t.Errorf("Expected unparsable config to be rejected")
	}
}

// TestNewEmulatedConfig tests the synthetic single node config
func TestNewEmulatedConfig(t *testing.T) {
	cfg := NewEmulatedConfig(testMyID, "127.0.0.1", 6379)

	if !cfg.IsEmulated() {
		t.Errorf("Emulated config not reported as emulated")
	}
	if cfg.OwnedSlots().Count() != KSlotCount {
		t.Errorf("Emulated node should own all slots, got %d", cfg.OwnedSlots().Count())
	}
	if len(cfg.Shards()) != 1 {
		t.Fatalf("Expected one shard, got %d", len(cfg.Shards()))
	}
	if m := cfg.MasterForSlot(12345); m.Addr() != "127.0.0.1:6379" {
		t.Errorf("MasterForSlot = %s, want 127.0.0.1:6379", m.Addr())
	}
}

// TestCloneWithoutSlots tests ownership narrowing during finalization
func TestCloneWithoutSlots(t *testing.T) {
	cfg := twoShardConfig(t)

	removed := NewSlotSetFromRanges(SlotRanges{{Start: 0, End: 100}})
	narrowed := cfg.CloneWithoutSlots(removed)

	if narrowed.IsMySlot(50) {
		t.Errorf("Removed slot still owned after clone")
	}
	if !narrowed.IsMySlot(101) {
		t.Errorf("Retained slot lost by clone")
	}
	if !cfg.IsMySlot(50) {
		t.Errorf("Clone mutated the original config")
	}
	if len(narrowed.Shards()) != len(cfg.Shards()) {
		t.Errorf("Clone should keep the shard list")
	}
}
