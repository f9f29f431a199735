package common

import (
	"encoding/json"
	"fmt"

	"github.com/marlinkv/marlin/lib/cluster"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message is the single frame type of the node-to-node protocol. It
// carries the migration handshake, the restore and journal stream, and
// the admin command plane. Which fields are used depends on MsgType.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Migration handshake fields
	SyncID  uint32   `json:"sync_id,omitempty"`  // Used for: MigrateConf (response), MigrateFlow, FullSyncCut
	ShardID uint32   `json:"shard_id,omitempty"` // Used for: MigrateConf (response, flow count), MigrateFlow, FullSyncCut
	Host    string   `json:"host,omitempty"`     // Used for: MigrateConf (destination announce ip)
	Port    uint16   `json:"port,omitempty"`     // Used for: MigrateConf (destination port)
	Slots   []uint32 `json:"slots,omitempty"`    // Used for: MigrateConf, flat (start, end) slot range pairs

	// Stream fields
	DbIndex    uint32 `json:"db_index,omitempty"`     // Used for: Restore, Journal
	Key        string `json:"key,omitempty"`          // Used for: Restore
	Value      []byte `json:"value,omitempty"`        // Used for: Restore payload
	ExpireAtMs int64  `json:"expire_at_ms,omitempty"` // Used for: Restore, absolute deadline, zero for none
	ObjType    uint8  `json:"obj_type,omitempty"`     // Used for: Restore
	Encoding   uint8  `json:"encoding,omitempty"`     // Used for: Restore
	Sticky     bool   `json:"sticky,omitempty"`       // Used for: Restore

	// Command plane fields
	Cmd  string   `json:"cmd,omitempty"`  // Used for: Command, Journal (forwarded command name)
	Args []string `json:"args,omitempty"` // Used for: Command, Journal

	// Response only fields
	Ok    bool     `json:"ok,omitempty"`    // Used for: Ack style responses
	Lines []string `json:"lines,omitempty"` // Used for: Command responses rendered line by line
	Err   string   `json:"err,omitempty"`   // Empty if no error, otherwise contains the error message
}

// SlotRanges decodes the flat Slots pairs into range form.
func (m *Message) SlotRanges() (cluster.SlotRanges, error) {
	if len(m.Slots)%2 != 0 {
		return nil, fmt.Errorf("odd slot bound count %d", len(m.Slots))
	}
	ranges := make(cluster.SlotRanges, 0, len(m.Slots)/2)
	for i := 0; i < len(m.Slots); i += 2 {
		r := cluster.SlotRange{Start: cluster.SlotID(m.Slots[i]), End: cluster.SlotID(m.Slots[i+1])}
		if !r.Valid() {
			return nil, fmt.Errorf("invalid slot range %d-%d", m.Slots[i], m.Slots[i+1])
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// flattenRanges encodes ranges as flat (start, end) pairs.
func flattenRanges(ranges cluster.SlotRanges) []uint32 {
	out := make([]uint32, 0, len(ranges)*2)
	for _, r := range ranges {
		out = append(out, uint32(r.Start), uint32(r.End))
	}
	return out
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewMigrateConfRequest creates the handshake request the destination
// opens a migration with. Host and port name the destination itself so
// the source can key its registry.
func NewMigrateConfRequest(host string, port uint16, ranges cluster.SlotRanges) *Message {
	return &Message{
		MsgType: MsgTMigrateConf,
		Host:    host,
		Port:    port,
		Slots:   flattenRanges(ranges),
	}
}

// NewMigrateConfResponse creates the handshake response carrying the
// sync id and the number of flows the destination must open.
func NewMigrateConfResponse(syncID uint32, shardCount int, err error) *Message {
	msg := &Message{
		MsgType: MsgTMigrateConf,
		SyncID:  syncID,
		ShardID: uint32(shardCount),
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewMigrateFlowRequest creates the request binding one connection to a
// source shard's flow.
func NewMigrateFlowRequest(syncID uint32, shardID int) *Message {
	return &Message{
		MsgType: MsgTMigrateFlow,
		SyncID:  syncID,
		ShardID: uint32(shardID),
	}
}

// NewRestoreMessage creates one streamed entry frame.
func NewRestoreMessage(dbIndex int, key string, objType, encoding uint8, data []byte, sticky bool, expireAtMs int64) *Message {
	return &Message{
		MsgType:    MsgTRestore,
		DbIndex:    uint32(dbIndex),
		Key:        key,
		ObjType:    objType,
		Encoding:   encoding,
		Value:      data,
		Sticky:     sticky,
		ExpireAtMs: expireAtMs,
	}
}

// NewJournalMessage creates one forwarded journal record frame.
func NewJournalMessage(dbIndex int, cmd string, args []string) *Message {
	return &Message{
		MsgType: MsgTJournal,
		DbIndex: uint32(dbIndex),
		Cmd:     cmd,
		Args:    args,
	}
}

// NewFullSyncCutMessage creates the frame announcing that one flow's
// snapshot drained.
func NewFullSyncCutMessage(syncID uint32, shardID int) *Message {
	return &Message{
		MsgType: MsgTFullSyncCut,
		SyncID:  syncID,
		ShardID: uint32(shardID),
	}
}

// NewCommandRequest creates an admin command frame.
func NewCommandRequest(cmd string, args ...string) *Message {
	return &Message{
		MsgType: MsgTCommand,
		Cmd:     cmd,
		Args:    args,
	}
}

// NewCommandResponse creates the rendered reply of an admin command.
func NewCommandResponse(lines []string, err error) *Message {
	msg := &Message{
		MsgType: MsgTCommand,
		Lines:   lines,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewAckResponse creates a bare acknowledgement.
func NewAckResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTAck,
		Ok:      err == nil,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in node-to-node communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTAck:
		return "ack"
	case MsgTError:
		return "error"
	case MsgTMigrateConf:
		return "migrateConf"
	case MsgTMigrateFlow:
		return "migrateFlow"
	case MsgTFullSyncCut:
		return "fullSyncCut"
	case MsgTRestore:
		return "restore"
	case MsgTJournal:
		return "journal"
	case MsgTCommand:
		return "command"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "ack":
		*t = MsgTAck
	case "error":
		*t = MsgTError
	case "migrateConf":
		*t = MsgTMigrateConf
	case "migrateFlow":
		*t = MsgTMigrateFlow
	case "fullSyncCut":
		*t = MsgTFullSyncCut
	case "restore":
		*t = MsgTRestore
	case "journal":
		*t = MsgTJournal
	case "command":
		*t = MsgTCommand
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTAck                 // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Migration handshake (destination to source)

	MsgTMigrateConf // Open a migration, reply carries sync id and flow count
	MsgTMigrateFlow // Bind this connection to one source shard's flow

	// Migration stream (source to destination, pushed on flow connections)

	MsgTRestore     // One key in restore form
	MsgTJournal     // One forwarded journal record
	MsgTFullSyncCut // One flow's snapshot drained

	// Admin command plane

	MsgTCommand // Cluster/admin command with rendered line reply
)
