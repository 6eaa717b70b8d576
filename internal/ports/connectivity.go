package ports

// Connectivity is the boolean online/offline signal the query cache and the
// mutation queue consult before attempting network work. Listeners are called
// on every transition with the new value, never for repeated values.
type Connectivity interface {
	IsOnline() bool
	Subscribe(listener func(online bool)) Subscription
}
