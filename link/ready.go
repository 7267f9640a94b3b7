package link

// Readier is implemented by links that can be alive without being able
// to send, like a UDP listener that has not heard from a peer yet.
type Readier interface {
	Ready() bool
}

// Ready reports whether l can send now. Links without a Readier
// implementation are ready while alive.
func Ready(l Link) bool {
	if r, ok := l.(Readier); ok {
		return r.Ready()
	}
	return l.IsAlive()
}
