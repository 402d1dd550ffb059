package handoff

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/zeebo/blake3"

	"github.com/openfroyo/cookbooks/pkg/engine"
)

// maxLineSize bounds one message; templates are carried inline.
const maxLineSize = 10 * 1024 * 1024

// Encoder writes protocol messages to an io.Writer.
type Encoder struct {
	w   *bufio.Writer
	sum hash.Hash
	seq int
	now func() time.Time
}

// NewEncoder creates a new protocol encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   bufio.NewWriter(w),
		sum: blake3.New(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Encode writes a message to the output stream.
func (e *Encoder) Encode(msgType MessageType, data interface{}) error {
	if err := msgType.Validate(); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	var dataBytes []byte
	var err error
	if data != nil {
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
	}

	msg := Message{
		Type:      msgType,
		Seq:       e.seq,
		Timestamp: e.now(),
		Data:      dataBytes,
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	msgBytes = append(msgBytes, '\n')

	if _, err := e.w.Write(msgBytes); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if msgType != MessageTypeEnd {
		_, _ = e.sum.Write(msgBytes)
	}
	e.seq++

	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return nil
}

// Checksum returns the hex BLAKE3 digest of every line written so far.
func (e *Encoder) Checksum() string {
	return hex.EncodeToString(e.sum.Sum(nil))
}

// EncodePlan writes a complete stream for plan.
func (e *Encoder) EncodePlan(ctx context.Context, plan *engine.Plan) error {
	if plan == nil {
		return fmt.Errorf("plan is nil")
	}

	if err := e.Encode(MessageTypePlan, &PlanMessage{
		Version:       ProtocolVersion,
		ID:            plan.ID,
		Node:          plan.Node,
		Platform:      plan.Platform,
		Family:        plan.Family,
		RunList:       plan.RunList,
		Intents:       len(plan.Intents),
		Notifications: len(plan.Notifications),
		Merged:        plan.Summary.Merged,
		Handlers:      plan.Handlers,
	}); err != nil {
		return err
	}

	for i, in := range plan.Intents {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd, err := CommandFor(in)
		if err != nil {
			return err
		}
		msg := &IntentMessage{
			Index:   i,
			Key:     in.Key(),
			Command: cmd,
			Intent:  in,
		}
		if plan.Graph != nil {
			if node, ok := plan.Graph.Nodes[msg.Key]; ok {
				msg.Level = node.Level
				msg.DependsOn = node.Dependencies
			}
		}
		if err := e.Encode(MessageTypeIntent, msg); err != nil {
			return err
		}
	}

	for _, edge := range plan.Notifications {
		if err := e.Encode(MessageTypeNotify, &NotifyMessage{NotificationEdge: edge}); err != nil {
			return err
		}
	}

	return e.Encode(MessageTypeEnd, &EndMessage{
		PlanID:        plan.ID,
		Intents:       len(plan.Intents),
		Notifications: len(plan.Notifications),
		Checksum:      e.Checksum(),
	})
}

// WritePlan writes plan to w as one hand-off stream.
func WritePlan(ctx context.Context, w io.Writer, plan *engine.Plan) error {
	return NewEncoder(w).EncodePlan(ctx, plan)
}

// Decoder reads protocol messages from an io.Reader.
type Decoder struct {
	r   *bufio.Scanner
	sum hash.Hash
	seq int
}

// NewDecoder creates a new protocol decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Decoder{
		r:   scanner,
		sum: blake3.New(),
	}
}

// Decode reads the next message from the input stream.
func (d *Decoder) Decode() (*Message, error) {
	if !d.r.Scan() {
		if err := d.r.Err(); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		return nil, io.EOF
	}

	line := d.r.Bytes()
	if len(line) == 0 {
		return nil, fmt.Errorf("empty line")
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	if err := msg.Type.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if msg.Seq != d.seq {
		return nil, fmt.Errorf("message out of sequence: got %d, want %d", msg.Seq, d.seq)
	}
	d.seq++

	if msg.Type != MessageTypeEnd {
		_, _ = d.sum.Write(line)
		_, _ = d.sum.Write([]byte{'\n'})
	}

	return &msg, nil
}

// Checksum returns the hex BLAKE3 digest of every non-END line read so far.
func (d *Decoder) Checksum() string {
	return hex.EncodeToString(d.sum.Sum(nil))
}

// DecodePlan reads one stream and rebuilds the plan it carries. The
// rebuilt plan must carry the ID announced in the PLAN message.
func (d *Decoder) DecodePlan(ctx context.Context) (*engine.Plan, error) {
	msg, err := d.Decode()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty stream")
		}
		return nil, err
	}
	if msg.Type != MessageTypePlan {
		return nil, fmt.Errorf("expected %s message, got %s", MessageTypePlan, msg.Type)
	}

	var header PlanMessage
	if err := json.Unmarshal(msg.Data, &header); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan header: %w", err)
	}
	if header.Version != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %q", header.Version)
	}

	intents := make([]engine.Intent, 0, header.Intents)
	edges := make([]engine.NotificationEdge, 0, header.Notifications)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		checksum := d.Checksum()
		msg, err := d.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("stream ended without %s", MessageTypeEnd)
			}
			return nil, err
		}

		switch msg.Type {
		case MessageTypeIntent:
			if len(edges) > 0 {
				return nil, fmt.Errorf("%s after %s", MessageTypeIntent, MessageTypeNotify)
			}
			var im IntentMessage
			if err := json.Unmarshal(msg.Data, &im); err != nil {
				return nil, fmt.Errorf("failed to unmarshal intent: %w", err)
			}
			if im.Index != len(intents) {
				return nil, fmt.Errorf("intent %s has index %d, want %d", im.Key, im.Index, len(intents))
			}
			if err := im.Command.Type.Validate(); err != nil {
				return nil, fmt.Errorf("intent %s: %w", im.Key, err)
			}
			intents = append(intents, im.Intent)

		case MessageTypeNotify:
			var nm NotifyMessage
			if err := json.Unmarshal(msg.Data, &nm); err != nil {
				return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
			}
			edges = append(edges, nm.NotificationEdge)

		case MessageTypeEnd:
			var end EndMessage
			if err := json.Unmarshal(msg.Data, &end); err != nil {
				return nil, fmt.Errorf("failed to unmarshal end: %w", err)
			}
			if end.Checksum != checksum {
				return nil, fmt.Errorf("stream checksum mismatch: got %s, computed %s", end.Checksum, checksum)
			}
			if end.PlanID != header.ID || end.Intents != len(intents) || end.Notifications != len(edges) ||
				header.Intents != len(intents) || header.Notifications != len(edges) {
				return nil, fmt.Errorf("stream counts do not match plan %s", header.ID)
			}
			return rebuild(ctx, &header, intents, edges)

		default:
			return nil, fmt.Errorf("unexpected %s message", msg.Type)
		}
	}
}

// ReadPlan reads one hand-off stream from r.
func ReadPlan(ctx context.Context, r io.Reader) (*engine.Plan, error) {
	return NewDecoder(r).DecodePlan(ctx)
}

func rebuild(ctx context.Context, header *PlanMessage, intents []engine.Intent, edges []engine.NotificationEdge) (*engine.Plan, error) {
	plan, err := engine.NewPlanner().Plan(ctx, intents, edges,
		engine.WithNode(header.Node, header.Platform, header.Family),
		engine.WithRunList(header.RunList))
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild plan: %w", err)
	}
	if plan.ID != header.ID {
		return nil, fmt.Errorf("rebuilt plan ID %s does not match stream plan %s", plan.ID, header.ID)
	}
	plan.Summary.Merged = header.Merged
	return plan, nil
}
