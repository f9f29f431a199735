package server

import (
	"errors"
	"fmt"

	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/rpc/common"
)

// --------------------------------------------------------------------------
// Reply Sink
// --------------------------------------------------------------------------

// ReplySink receives the rendered reply of one admin command. The
// command handlers never build wire frames themselves, so the same
// handlers serve the node-to-node plane and in-process callers (tests,
// the CLI shell).
type ReplySink interface {
	// WriteLine appends one reply line
	WriteLine(line string)
	// WriteError terminates the reply with an error. Engine error
	// codes are mapped to their wire prefix
	WriteError(err error)
}

// --------------------------------------------------------------------------
// Message-backed sink
// --------------------------------------------------------------------------

// lineSink collects reply lines and renders them into one command
// response frame.
type lineSink struct {
	lines []string
	err   error
}

func (s *lineSink) WriteLine(line string) {
	s.lines = append(s.lines, line)
}

func (s *lineSink) WriteError(err error) {
	if s.err == nil {
		s.err = errors.New(WireError(err))
	}
}

// Response renders the collected reply as a command frame.
func (s *lineSink) Response() *common.Message {
	return common.NewCommandResponse(s.lines, s.err)
}

// --------------------------------------------------------------------------
// Wire error rendering
// --------------------------------------------------------------------------

// WireError maps an engine error to its wire string. Unknown errors
// render with the generic ERR prefix.
func WireError(err error) string {
	var e *core.Error
	if !errors.As(err, &e) {
		return fmt.Sprintf("ERR %s", err.Error())
	}
	switch e.Code {
	case core.RetCWrongType:
		return "WRONGTYPE Operation against a key holding the wrong kind of value"
	case core.RetCKeyMoved:
		return fmt.Sprintf("MOVED %s", e.Msg)
	case core.RetCSyntaxErr:
		return fmt.Sprintf("ERR syntax error: %s", e.Msg)
	case core.RetCOutOfMemory:
		return fmt.Sprintf("OOM %s", e.Msg)
	default:
		return fmt.Sprintf("ERR %s", e.Msg)
	}
}
