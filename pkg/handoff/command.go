package handoff

import (
	"encoding/json"
	"fmt"

	"github.com/openfroyo/cookbooks/pkg/engine"
)

// CommandFor maps an intent to the backend command that converges it.
func CommandFor(in engine.Intent) (Command, error) {
	var (
		typ    CommandType
		params interface{}
	)

	switch in.Kind {
	case engine.KindPackage:
		typ = CommandTypePkgEnsure
		params = PkgEnsureParams{Name: in.Name, State: "present"}
	case engine.KindDirectory:
		typ = CommandTypeFileMkdir
		params = FileMkdirParams{Path: in.Name, Owner: in.Owner, Group: in.Group, Mode: in.Mode}
	case engine.KindTemplate:
		typ = CommandTypeFileWrite
		params = FileWriteParams{
			Path:     in.Name,
			Source:   in.Source,
			Content:  in.Content,
			Checksum: in.Checksum,
			Owner:    in.Owner,
			Group:    in.Group,
			Mode:     in.Mode,
		}
	case engine.KindService:
		typ = CommandTypeServiceEnsure
		p := ServiceEnsureParams{Name: in.Name}
		for _, a := range in.Actions {
			if a != engine.ActionNothing {
				p.Actions = append(p.Actions, string(a))
			}
		}
		for _, s := range in.Supports {
			p.Supports = append(p.Supports, string(s))
		}
		params = p
	case engine.KindExecute:
		typ = CommandTypeExec
		params = ExecParams{
			Label:    in.Name,
			Command:  in.Command,
			Creates:  in.Creates,
			Deferred: !in.HasAction(engine.ActionRun),
		}
	default:
		return Command{}, fmt.Errorf("no backend command for intent kind %q", in.Kind)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return Command{}, fmt.Errorf("failed to marshal %s params: %w", typ, err)
	}
	return Command{Type: typ, Params: raw}, nil
}

// ParseParams parses command parameters into a specific type.
func ParseParams(params json.RawMessage, target interface{}) error {
	if err := json.Unmarshal(params, target); err != nil {
		return fmt.Errorf("failed to parse params: %w", err)
	}
	return nil
}
