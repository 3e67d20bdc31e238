package metadata

// ChangingNotifier is implemented by entity types that announce a member is
// about to change. The tracker installs the hook when tracking starts and
// clears it with nil when tracking stops.
type ChangingNotifier interface {
	SetChangingHook(hook func(member string))
}

// ChangedNotifier is implemented by entity types that announce a member has
// changed.
type ChangedNotifier interface {
	SetChangedHook(hook func(member string))
}

// Notifications can be embedded in an entity struct to implement both
// notifier interfaces. Setters wrap each write in Notify.
type Notifications struct {
	changing func(member string)
	changed  func(member string)
}

// SetChangingHook implements ChangingNotifier.
func (n *Notifications) SetChangingHook(hook func(member string)) { n.changing = hook }

// SetChangedHook implements ChangedNotifier.
func (n *Notifications) SetChangedHook(hook func(member string)) { n.changed = hook }

// Notify runs mutate between the changing and changed hooks of member.
func (n *Notifications) Notify(member string, mutate func()) {
	if n.changing != nil {
		n.changing(member)
	}
	mutate()
	if n.changed != nil {
		n.changed(member)
	}
}

// ChangingNotifications is the pre-mutation half of Notifications, for types
// that only announce upcoming changes.
type ChangingNotifications struct {
	changing func(member string)
}

// SetChangingHook implements ChangingNotifier.
func (n *ChangingNotifications) SetChangingHook(hook func(member string)) { n.changing = hook }

// Notify raises the changing hook of member, then runs mutate.
func (n *ChangingNotifications) Notify(member string, mutate func()) {
	if n.changing != nil {
		n.changing(member)
	}
	mutate()
}
