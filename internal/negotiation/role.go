// Package negotiation implements perfect negotiation over a peer connection
// and a signaling channel: both sides may offer at any time and offer
// collisions are resolved by a fixed polite/impolite role per pair.
package negotiation

// Role is the glare-resolution role of the local side towards one remote.
type Role int

const (
	// Polite yields in an offer collision: it rolls back its own offer and
	// answers the remote one.
	Polite Role = iota
	// Impolite ignores a colliding remote offer and keeps its own.
	Impolite
)

// RoleFor derives the local role: polite iff localID sorts before remoteID.
// Two distinct ids always yield opposite roles on the two sides.
func RoleFor(localID, remoteID string) Role {
	if localID < remoteID {
		return Polite
	}
	return Impolite
}

func (r Role) String() string {
	if r == Polite {
		return "polite"
	}
	return "impolite"
}
