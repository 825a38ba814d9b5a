// Package dispatch executes switch-skill actions.
//
// Switch actions (on, off, room_on, room_off) fan out one command per
// resolved device over a Publisher and fan back in to a single Result.
// Each branch has its own timeout and its own failure; a slow or broken
// device never delays or fails its siblings. List and Refresh read the
// device cache, and Help is a pass-through.
//
// # Usage
//
//	d := dispatch.New(mqttClient, cache, dispatch.Config{PublishTimeout: 5 * time.Second})
//	d.SetLogger(log)
//
//	res, err := d.Dispatch(ctx, dispatch.ActionRoomOff, dispatch.Targets(devices, "kitchen"))
//	for _, f := range res.Failed() {
//	    log.Warn("device unreachable", "alias", f.Alias, "reason", f.Reason)
//	}
package dispatch
