package cluster

import (
	"encoding/json"
	"fmt"

	"github.com/marlinkv/marlin/lib/core"
)

// --------------------------------------------------------------------------
// Nodes and Shards
// --------------------------------------------------------------------------

// NodeInfo describes one node of the cluster.
type NodeInfo struct {
	ID   string `json:"id"`
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// Addr returns "ip:port".
func (n NodeInfo) Addr() string {
	return fmt.Sprintf("%s:%d", n.IP, n.Port)
}

// ShardInfo describes one cluster shard: its owned slot ranges, its
// master and its replicas.
type ShardInfo struct {
	SlotRanges SlotRanges `json:"slot_ranges"`
	Master     NodeInfo   `json:"master"`
	Replicas   []NodeInfo `json:"replicas"`
}

// ConfigShards is the shard list a config is built from.
type ConfigShards []ShardInfo

// --------------------------------------------------------------------------
// Config
// --------------------------------------------------------------------------

// Config is an immutable slot-to-owner snapshot. Shard workers each hold
// their own pointer to the current config, swapped under the set-config
// protocol, so reads are lock-free.
type Config struct {
	myID       string
	shards     ConfigShards
	ownedSlots SlotSet
	emulated   bool
}

// NewConfig validates the shard list and builds a config. Every slot
// must be covered by exactly one shard.
func NewConfig(myID string, shards ConfigShards) (*Config, error) {
	covered := NewSlotSet()
	owned := NewSlotSet()
	for _, sh := range shards {
		if sh.Master.ID == "" {
			return nil, core.NewError(core.RetCInvalidConfig, "shard without master id")
		}
		for _, r := range sh.SlotRanges {
			if !r.Valid() {
				return nil, core.NewErrorf(core.RetCInvalidConfig, "invalid slot range %s", r)
			}
			for s := uint64(r.Start); s <= uint64(r.End); s++ {
				if covered.Contains(SlotID(s)) {
					return nil, core.NewErrorf(core.RetCInvalidConfig, "slot %d covered twice", s)
				}
				covered.Add(SlotID(s))
			}
		}
		if sh.Master.ID == myID {
			for _, r := range sh.SlotRanges {
				for s := uint64(r.Start); s <= uint64(r.End); s++ {
					owned.Add(SlotID(s))
				}
			}
		}
	}
	if covered.Count() != KSlotCount {
		return nil, core.NewErrorf(core.RetCInvalidConfig,
			"config covers %d of %d slots", covered.Count(), KSlotCount)
	}
	return &Config{myID: myID, shards: shards, ownedSlots: owned}, nil
}

// NewConfigFromJSON parses and validates the wire representation: a
// list of shards, each with slot_ranges, master and replicas.
func NewConfigFromJSON(myID string, data []byte) (*Config, error) {
	var shards ConfigShards
	if err := json.Unmarshal(data, &shards); err != nil {
		return nil, core.NewErrorf(core.RetCInvalidConfig, "unparsable cluster config: %v", err)
	}
	return NewConfig(myID, shards)
}

// NewEmulatedConfig builds the synthetic single-shard config served in
// emulated mode: one master owning the full slot range, addressed by
// the announce ip and port.
func NewEmulatedConfig(myID, announceIP string, port uint16) *Config {
	shards := ConfigShards{{
		SlotRanges: SlotRanges{{Start: 0, End: KMaxSlotNum}},
		Master:     NodeInfo{ID: myID, IP: announceIP, Port: port},
	}}
	return &Config{
		myID:       myID,
		shards:     shards,
		ownedSlots: FullSlotSet(),
		emulated:   true,
	}
}

// MyID returns the id of the local master.
func (c *Config) MyID() string { return c.myID }

// IsEmulated reports whether this is the synthetic single-node config.
func (c *Config) IsEmulated() bool { return c.emulated }

// Shards returns the shard list for rendering. Callers must not mutate
// the returned slice.
func (c *Config) Shards() ConfigShards { return c.shards }

// IsMySlot reports whether the local node owns the slot.
func (c *Config) IsMySlot(id SlotID) bool { return c.ownedSlots.Contains(id) }

// OwnedSlots returns the set of locally owned slots.
func (c *Config) OwnedSlots() SlotSet { return c.ownedSlots }

// MasterForSlot returns the master node owning the slot.
func (c *Config) MasterForSlot(id SlotID) NodeInfo {
	for _, sh := range c.shards {
		for _, r := range sh.SlotRanges {
			if id >= r.Start && id <= r.End {
				return sh.Master
			}
		}
	}
	return NodeInfo{}
}

// CloneWithoutSlots returns a copy of the config whose owned set
// excludes removed. The shard list is unchanged, only local ownership
// is narrowed. Used while a migration finalizes to bounce reads of the
// migrated slots before the authoritative config lands.
func (c *Config) CloneWithoutSlots(removed SlotSet) *Config {
	return &Config{
		myID:       c.myID,
		shards:     c.shards,
		ownedSlots: c.ownedSlots.Diff(removed),
		emulated:   c.emulated,
	}
}
