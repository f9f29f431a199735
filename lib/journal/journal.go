package journal

import (
	"fmt"
	"strings"

	"github.com/marlinkv/marlin/lib/util"
)

// --------------------------------------------------------------------------
// Entries
// --------------------------------------------------------------------------

// Op discriminates journal entry kinds.
type Op uint8

const (
	// OpCommand is a regular applied command with its arguments.
	OpCommand Op = iota
	// OpExpired is a deletion caused by lazy expiry or eviction.
	OpExpired
)

// String returns the symbolic name of the op.
func (o Op) String() string {
	if o == OpExpired {
		return "EXPIRED"
	}
	return "COMMAND"
}

// Entry is one journal record. For OpExpired the payload is always
// ("DEL", key). For OpCommand the payload is the applied command and its
// arguments.
type Entry struct {
	LSN     uint64
	DbIndex int
	Op      Op
	Cmd     string
	Args    []string
}

// NewExpiredEntry creates the deletion record written by lazy expiry and
// eviction.
func NewExpiredEntry(dbIndex int, key string) Entry {
	return Entry{DbIndex: dbIndex, Op: OpExpired, Cmd: "DEL", Args: []string{key}}
}

// NewCommandEntry creates a regular command record.
func NewCommandEntry(dbIndex int, cmd string, args ...string) Entry {
	return Entry{DbIndex: dbIndex, Op: OpCommand, Cmd: cmd, Args: args}
}

// Key returns the key a single-key entry refers to, or "" for entries
// without a key argument.
func (e *Entry) Key() string {
	if len(e.Args) > 0 && (e.Op == OpExpired || isKeyedCmd(e.Cmd)) {
		return e.Args[0]
	}
	return ""
}

func isKeyedCmd(cmd string) bool {
	switch strings.ToUpper(cmd) {
	case "SET", "DEL", "RESTORE", "PEXPIREAT", "PERSIST":
		return true
	default:
		return false
	}
}

// String renders the entry for logs.
func (e *Entry) String() string {
	return fmt.Sprintf("%d %s %s %s", e.LSN, e.Op, e.Cmd, strings.Join(e.Args, " "))
}

// --------------------------------------------------------------------------
// Journal
// --------------------------------------------------------------------------

// subscription fans entries out to one consumer.
type subscription struct {
	id    uint64
	queue *util.MPSC[Entry]
}

// Journal is the per-shard mutation log.
//
// Thread-safety: RecordEntry and Subscribe/Unsubscribe must only be
// called from the owning shard worker. Consumers drain their channel
// from any goroutine.
type Journal struct {
	lsn    uint64
	nextID uint64
	subs   []*subscription
}

// New creates an empty journal.
func New() *Journal {
	return &Journal{}
}

// LSN returns the sequence number of the last recorded entry.
func (j *Journal) LSN() uint64 { return j.lsn }

// RecordEntry assigns the next LSN and fans the entry out to all
// subscribers.
func (j *Journal) RecordEntry(e Entry) uint64 {
	j.lsn++
	e.LSN = j.lsn
	for _, s := range j.subs {
		entry := e
		s.queue.Push(&entry)
	}
	return e.LSN
}

// Subscribe registers a consumer and returns its id and entry channel.
func (j *Journal) Subscribe() (uint64, <-chan *Entry) {
	j.nextID++
	sub := &subscription{id: j.nextID, queue: util.NewMPSC[Entry]()}
	j.subs = append(j.subs, sub)
	return sub.id, sub.queue.Recv()
}

// Unsubscribe removes a consumer. Its channel closes after the already
// queued entries drain.
func (j *Journal) Unsubscribe(id uint64) {
	for i, s := range j.subs {
		if s.id == id {
			s.queue.Close()
			j.subs = append(j.subs[:i], j.subs[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of registered consumers.
func (j *Journal) SubscriberCount() int { return len(j.subs) }
