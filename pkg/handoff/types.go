// Package handoff defines the newline-delimited JSON stream that carries an
// execution plan to an execution backend.
//
// A stream is one PLAN message, one INTENT message per intent in plan order,
// one NOTIFY message per notification edge and a closing END message whose
// checksum covers every line before it.
package handoff

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/cookbooks/pkg/engine"
)

// ProtocolVersion is written into every PLAN message.
const ProtocolVersion = "1"

// MessageType represents the type of message in the stream.
type MessageType string

const (
	// MessageTypePlan opens a stream and describes the plan
	MessageTypePlan MessageType = "PLAN"
	// MessageTypeIntent carries one intent and its backend command
	MessageTypeIntent MessageType = "INTENT"
	// MessageTypeNotify carries one notification edge
	MessageTypeNotify MessageType = "NOTIFY"
	// MessageTypeEnd closes the stream
	MessageTypeEnd MessageType = "END"
)

// CommandType is the backend operation that converges one intent.
type CommandType string

const (
	// CommandTypePkgEnsure ensures a package is installed
	CommandTypePkgEnsure CommandType = "pkg.ensure"
	// CommandTypeFileMkdir ensures a directory exists with ownership and mode
	CommandTypeFileMkdir CommandType = "file.mkdir"
	// CommandTypeFileWrite writes rendered content to a file
	CommandTypeFileWrite CommandType = "file.write"
	// CommandTypeServiceEnsure drives a service to its declared actions
	CommandTypeServiceEnsure CommandType = "service.ensure"
	// CommandTypeExec runs a command
	CommandTypeExec CommandType = "exec"
)

// Message is the envelope for every line of the stream.
type Message struct {
	Type      MessageType     `json:"type"`
	Seq       int             `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// PlanMessage opens the stream.
type PlanMessage struct {
	Version       string           `json:"version"`
	ID            string           `json:"id"`
	Node          string           `json:"node,omitempty"`
	Platform      string           `json:"platform,omitempty"`
	Family        string           `json:"family,omitempty"`
	RunList       []string         `json:"run_list,omitempty"`
	Intents       int              `json:"intents"`
	Notifications int              `json:"notifications"`
	Merged        int              `json:"merged"`
	Handlers      []engine.Handler `json:"handlers"`
}

// IntentMessage carries one intent, where it sits in the execution graph
// and the command a backend runs to converge it.
type IntentMessage struct {
	Index     int           `json:"index"`
	Key       string        `json:"key"`
	Level     int           `json:"level"`
	DependsOn []string      `json:"depends_on,omitempty"`
	Command   Command       `json:"command"`
	Intent    engine.Intent `json:"intent"`
}

// Command is the backend operation for one intent.
type Command struct {
	Type   CommandType     `json:"type"`
	Params json.RawMessage `json:"params"`
}

// NotifyMessage carries one notification edge.
type NotifyMessage struct {
	engine.NotificationEdge
}

// EndMessage closes the stream. Checksum is the BLAKE3 hash of every
// preceding line including its newline.
type EndMessage struct {
	PlanID        string `json:"plan_id"`
	Intents       int    `json:"intents"`
	Notifications int    `json:"notifications"`
	Checksum      string `json:"checksum"`
}

// Command parameter structures for each command type

// PkgEnsureParams installs a package.
type PkgEnsureParams struct {
	Name  string `json:"name"`
	State string `json:"state"` // present
}

// FileMkdirParams creates a directory.
type FileMkdirParams struct {
	Path  string `json:"path"`
	Owner string `json:"owner,omitempty"`
	Group string `json:"group,omitempty"`
	Mode  string `json:"mode,omitempty"`
}

// FileWriteParams writes rendered template content.
type FileWriteParams struct {
	Path     string `json:"path"`
	Source   string `json:"source,omitempty"`
	Content  string `json:"content"`
	Checksum string `json:"checksum,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Group    string `json:"group,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// ServiceEnsureParams drives a service through its actions in order.
type ServiceEnsureParams struct {
	Name     string   `json:"name"`
	Actions  []string `json:"actions"`
	Supports []string `json:"supports,omitempty"`
}

// ExecParams runs a command. With Deferred set the command only runs when
// notified.
type ExecParams struct {
	Label    string `json:"label"`
	Command  string `json:"command"`
	Creates  string `json:"creates,omitempty"`
	Deferred bool   `json:"deferred"`
}

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypePlan, MessageTypeIntent, MessageTypeNotify, MessageTypeEnd:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the command type is valid.
func (ct CommandType) Validate() error {
	switch ct {
	case CommandTypePkgEnsure, CommandTypeFileMkdir, CommandTypeFileWrite,
		CommandTypeServiceEnsure, CommandTypeExec:
		return nil
	default:
		return fmt.Errorf("invalid command type: %s", ct)
	}
}
