package usage

import (
	"encoding/json"

	"github.com/marcelsud/webhook-guard/realtime"
)

// InstancesResource is the table whose changes invalidate cached instances.
const InstancesResource = "whatsapp_instances"

// Subscriber is the subset of realtime.Manager the watcher needs
type Subscriber interface {
	Subscribe(key string, spec realtime.Spec) func()
}

// WatchInstances drops cached instances whenever their row changes.
// The returned func ends the subscription.
func WatchInstances(sub Subscriber, uc UseCase) func() {
	spec := realtime.Spec{
		Resource: InstancesResource,
		Event:    "*",
		Callback: func(c realtime.Change) {
			for _, id := range changedIDs(c) {
				uc.InvalidateInstance(id)
			}
		},
	}
	return sub.Subscribe(realtime.KeyFor(spec), spec)
}

func changedIDs(c realtime.Change) []string {
	var ids []string
	for _, raw := range []json.RawMessage{c.Record, c.OldRecord} {
		if len(raw) == 0 {
			continue
		}
		var row struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &row); err != nil || row.ID == "" {
			continue
		}
		if len(ids) == 1 && ids[0] == row.ID {
			continue
		}
		ids = append(ids, row.ID)
	}
	return ids
}
