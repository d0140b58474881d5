package state

// Notifier receives push notifications on state changes. Implemented by the
// websocket hub; background tasks call it outside the store lock.
type Notifier interface {
	// Init pushes the full filtered snapshot list. Sent once after the
	// first successful population and to each new subscriber.
	Init(snapshots []Snapshot)
	// Update pushes one changed snapshot.
	Update(snapshot Snapshot)
}

// NopNotifier discards all notifications. Useful in tests and for
// standalone tooling that only needs the store populated.
type NopNotifier struct{}

func (NopNotifier) Init([]Snapshot) {}
func (NopNotifier) Update(Snapshot) {}
