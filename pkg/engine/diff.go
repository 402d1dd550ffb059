package engine

import (
	"reflect"
)

// DiffPlans lists how the desired state moved between two plans: intents
// removed (in old plan order), then intents added or modified (in new plan
// order). Modified intents yield one change per differing field.
func DiffPlans(older, newer *Plan) []Change {
	changes := make([]Change, 0)
	if older == nil {
		older = &Plan{}
	}
	if newer == nil {
		newer = &Plan{}
	}

	newKeys := make(map[string]bool, len(newer.Intents))
	for _, in := range newer.Intents {
		newKeys[in.Key()] = true
	}

	for _, in := range older.Intents {
		if !newKeys[in.Key()] {
			changes = append(changes, Change{
				Intent: in.Key(),
				Before: in,
				Action: ChangeActionRemove,
			})
		}
	}

	for _, in := range newer.Intents {
		before, ok := older.Intent(in.Key())
		if !ok {
			changes = append(changes, Change{
				Intent: in.Key(),
				After:  in,
				Action: ChangeActionAdd,
			})
			continue
		}
		changes = append(changes, diffIntent(before, in, older, newer)...)
	}

	return changes
}

func diffIntent(before, after Intent, older, newer *Plan) []Change {
	key := after.Key()
	fields := []struct {
		name          string
		before, after interface{}
	}{
		{"actions", before.Actions, after.Actions},
		{"owner", before.Owner, after.Owner},
		{"group", before.Group, after.Group},
		{"mode", before.Mode, after.Mode},
		{"source", before.Source, after.Source},
		{"content", before.Content, after.Content},
		{"command", before.Command, after.Command},
		{"creates", before.Creates, after.Creates},
		{"supports", before.Supports, after.Supports},
		{"notifications", older.NotificationsFrom(key), newer.NotificationsFrom(key)},
	}

	changes := make([]Change, 0)
	for _, f := range fields {
		if valuesEqual(f.before, f.after) {
			continue
		}
		changes = append(changes, Change{
			Intent: key,
			Field:  f.name,
			Before: f.before,
			After:  f.after,
			Action: ChangeActionModify,
		})
	}
	return changes
}

// valuesEqual treats nil and empty slices as equal, so a plan read back from
// storage compares equal to the one that was written.
func valuesEqual(a, b interface{}) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() == reflect.Slice && vb.Kind() == reflect.Slice && va.Len() == 0 && vb.Len() == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
