package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/marlinkv/marlin/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasSyncID     uint16 = 1 << 0
	hasShardID    uint16 = 1 << 1
	hasHost       uint16 = 1 << 2
	hasPort       uint16 = 1 << 3
	hasSlots      uint16 = 1 << 4
	hasDbIndex    uint16 = 1 << 5
	hasKey        uint16 = 1 << 6
	hasValue      uint16 = 1 << 7
	hasExpireAtMs uint16 = 1 << 8
	hasObjMeta    uint16 = 1 << 9 // ObjType, Encoding and Sticky packed together
	hasCmd        uint16 = 1 << 10
	hasArgs       uint16 = 1 << 11
	hasOk         uint16 = 1 << 12
	hasLines      uint16 = 1 << 13
	hasErr        uint16 = 1 << 14
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	totalSize := b.sizeBytes(msg)
	result := make([]byte, totalSize)

	// Write message type
	result[0] = byte(msg.MsgType)

	// Initialize flags word
	var flags uint16 = 0

	// Set position for writing
	pos := 3 // Start after MsgType and flags

	// Handle SyncID
	if msg.SyncID > 0 {
		flags |= hasSyncID
		binary.BigEndian.PutUint32(result[pos:pos+4], msg.SyncID)
		pos += 4
	}

	// Handle ShardID
	if msg.ShardID > 0 {
		flags |= hasShardID
		binary.BigEndian.PutUint32(result[pos:pos+4], msg.ShardID)
		pos += 4
	}

	// Handle Host
	if msg.Host != "" {
		flags |= hasHost
		pos = writeString(result, pos, msg.Host)
	}

	// Handle Port
	if msg.Port > 0 {
		flags |= hasPort
		binary.BigEndian.PutUint16(result[pos:pos+2], msg.Port)
		pos += 2
	}

	// Handle Slots
	if len(msg.Slots) > 0 {
		flags |= hasSlots
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.Slots)))
		pos += 4
		for _, s := range msg.Slots {
			binary.BigEndian.PutUint32(result[pos:pos+4], s)
			pos += 4
		}
	}

	// Handle DbIndex
	if msg.DbIndex > 0 {
		flags |= hasDbIndex
		binary.BigEndian.PutUint32(result[pos:pos+4], msg.DbIndex)
		pos += 4
	}

	// Handle Key
	if msg.Key != "" {
		flags |= hasKey
		pos = writeString(result, pos, msg.Key)
	}

	// Handle Value
	if msg.Value != nil {
		flags |= hasValue
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.Value)))
		pos += 4
		copy(result[pos:pos+len(msg.Value)], msg.Value)
		pos += len(msg.Value)
	}

	// Handle ExpireAtMs
	if msg.ExpireAtMs != 0 {
		flags |= hasExpireAtMs
		binary.BigEndian.PutUint64(result[pos:pos+8], uint64(msg.ExpireAtMs))
		pos += 8
	}

	// Handle ObjType, Encoding and Sticky
	if msg.ObjType > 0 || msg.Encoding > 0 || msg.Sticky {
		flags |= hasObjMeta
		result[pos] = msg.ObjType
		result[pos+1] = msg.Encoding
		if msg.Sticky {
			result[pos+2] = 1
		}
		pos += 3
	}

	// Handle Cmd
	if msg.Cmd != "" {
		flags |= hasCmd
		pos = writeString(result, pos, msg.Cmd)
	}

	// Handle Args
	if len(msg.Args) > 0 {
		flags |= hasArgs
		pos = writeStringList(result, pos, msg.Args)
	}

	// Handle Ok
	if msg.Ok {
		flags |= hasOk
		result[pos] = 1
		pos += 1
	}

	// Handle Lines
	if len(msg.Lines) > 0 {
		flags |= hasLines
		pos = writeStringList(result, pos, msg.Lines)
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		pos = writeString(result, pos, msg.Err)
	}

	// Set flags word after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 3 {
		return fmt.Errorf("data too short for message header")
	}

	// Read message type and flags
	msg.MsgType = common.MessageType(data[0])
	flags := binary.BigEndian.Uint16(data[1:3])

	// Initialize read position
	pos := 3
	var err error

	// Read SyncID if present
	msg.SyncID = 0
	if flags&hasSyncID != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for sync id")
		}
		msg.SyncID = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}

	// Read ShardID if present
	msg.ShardID = 0
	if flags&hasShardID != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for shard id")
		}
		msg.ShardID = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}

	// Read Host if present
	msg.Host = ""
	if flags&hasHost != 0 {
		if msg.Host, pos, err = readString(data, pos, "host"); err != nil {
			return err
		}
	}

	// Read Port if present
	msg.Port = 0
	if flags&hasPort != 0 {
		if pos+2 > len(data) {
			return fmt.Errorf("data too short for port")
		}
		msg.Port = binary.BigEndian.Uint16(data[pos : pos+2])
		pos += 2
	}

	// Read Slots if present
	msg.Slots = nil
	if flags&hasSlots != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for slot count")
		}
		count := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
		if pos+int(count)*4 > len(data) {
			return fmt.Errorf("data too short for slot list")
		}
		msg.Slots = make([]uint32, count)
		for i := range msg.Slots {
			msg.Slots[i] = binary.BigEndian.Uint32(data[pos : pos+4])
			pos += 4
		}
	}

	// Read DbIndex if present
	msg.DbIndex = 0
	if flags&hasDbIndex != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for db index")
		}
		msg.DbIndex = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}

	// Read Key if present
	msg.Key = ""
	if flags&hasKey != 0 {
		if msg.Key, pos, err = readString(data, pos, "key"); err != nil {
			return err
		}
	}

	// Read Value if present
	msg.Value = nil
	if flags&hasValue != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for value length")
		}
		valueLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
		if pos+int(valueLen) > len(data) {
			return fmt.Errorf("data too short for value data")
		}
		msg.Value = make([]byte, valueLen)
		copy(msg.Value, data[pos:pos+int(valueLen)])
		pos += int(valueLen)
	}

	// Read ExpireAtMs if present
	msg.ExpireAtMs = 0
	if flags&hasExpireAtMs != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for expire deadline")
		}
		msg.ExpireAtMs = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8
	}

	// Read ObjType, Encoding and Sticky if present
	msg.ObjType, msg.Encoding, msg.Sticky = 0, 0, false
	if flags&hasObjMeta != 0 {
		if pos+3 > len(data) {
			return fmt.Errorf("data too short for object meta")
		}
		msg.ObjType = data[pos]
		msg.Encoding = data[pos+1]
		msg.Sticky = data[pos+2] != 0
		pos += 3
	}

	// Read Cmd if present
	msg.Cmd = ""
	if flags&hasCmd != 0 {
		if msg.Cmd, pos, err = readString(data, pos, "cmd"); err != nil {
			return err
		}
	}

	// Read Args if present
	msg.Args = nil
	if flags&hasArgs != 0 {
		if msg.Args, pos, err = readStringList(data, pos, "args"); err != nil {
			return err
		}
	}

	// Read Ok if present
	msg.Ok = false
	if flags&hasOk != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for ok flag")
		}
		msg.Ok = data[pos] != 0
		pos += 1
	}

	// Read Lines if present
	msg.Lines = nil
	if flags&hasLines != 0 {
		if msg.Lines, pos, err = readStringList(data, pos, "lines"); err != nil {
			return err
		}
	}

	// Read Err if present
	msg.Err = ""
	if flags&hasErr != 0 {
		if msg.Err, pos, err = readString(data, pos, "err"); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// writeString writes a length-prefixed string and returns the new position
func writeString(buf []byte, pos int, s string) int {
	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(s)))
	pos += 4
	copy(buf[pos:pos+len(s)], s)
	return pos + len(s)
}

// readString reads a length-prefixed string and returns it with the new position
func readString(data []byte, pos int, field string) (string, int, error) {
	if pos+4 > len(data) {
		return "", 0, fmt.Errorf("data too short for %s length", field)
	}
	strLen := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4
	if pos+int(strLen) > len(data) {
		return "", 0, fmt.Errorf("data too short for %s data", field)
	}
	s := string(data[pos : pos+int(strLen)])
	return s, pos + int(strLen), nil
}

// writeStringList writes a count-prefixed list of length-prefixed strings
func writeStringList(buf []byte, pos int, list []string) int {
	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(list)))
	pos += 4
	for _, s := range list {
		pos = writeString(buf, pos, s)
	}
	return pos
}

// readStringList reads a count-prefixed list of length-prefixed strings
func readStringList(data []byte, pos int, field string) ([]string, int, error) {
	if pos+4 > len(data) {
		return nil, 0, fmt.Errorf("data too short for %s count", field)
	}
	count := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4
	list := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		s, next, err := readString(data, pos, field)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, s)
		pos = next
	}
	return list, pos, nil
}

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 2 bytes for flags
	size := 3

	// Add sizes for fields that require length encoding
	if msg.SyncID > 0 {
		size += 4
	}
	if msg.ShardID > 0 {
		size += 4
	}
	if msg.Host != "" {
		size += 4 + len(msg.Host)
	}
	if msg.Port > 0 {
		size += 2
	}
	if len(msg.Slots) > 0 {
		size += 4 + len(msg.Slots)*4
	}
	if msg.DbIndex > 0 {
		size += 4
	}
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.ExpireAtMs != 0 {
		size += 8
	}
	if msg.ObjType > 0 || msg.Encoding > 0 || msg.Sticky {
		size += 3
	}
	if msg.Cmd != "" {
		size += 4 + len(msg.Cmd)
	}
	if len(msg.Args) > 0 {
		size += 4
		for _, s := range msg.Args {
			size += 4 + len(s)
		}
	}
	if msg.Ok {
		size += 1
	}
	if len(msg.Lines) > 0 {
		size += 4
		for _, s := range msg.Lines {
			size += 4 + len(s)
		}
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}

	return size
}
