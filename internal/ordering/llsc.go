package ordering

// LoadLinkStoreConditional implements the LL/SC lock-free primitive pair: a
// per-address reservation that a matching store-conditional consumes.
type LoadLinkStoreConditional struct {
	reservations map[uint64]uint64 // address -> seq num that performed the load-link
}

// NewLoadLinkStoreConditional creates an empty reservation table.
func NewLoadLinkStoreConditional() *LoadLinkStoreConditional {
	return &LoadLinkStoreConditional{reservations: make(map[uint64]uint64)}
}

// LoadLink records a reservation for address by seq.
func (l *LoadLinkStoreConditional) LoadLink(address, seq uint64) {
	l.reservations[address] = seq
}

// StoreConditional succeeds iff a reservation for address exists and was
// made by seq; on success the reservation is cleared, so a second SC
// without a fresh LL always fails.
func (l *LoadLinkStoreConditional) StoreConditional(address, seq uint64) bool {
	owner, ok := l.reservations[address]
	if !ok || owner != seq {
		return false
	}
	delete(l.reservations, address)
	return true
}

// Reservation returns the sequence number holding a live reservation for
// address, if any.
func (l *LoadLinkStoreConditional) Reservation(address uint64) (uint64, bool) {
	seq, ok := l.reservations[address]
	return seq, ok
}

// InvalidateReservation drops any reservation for address, as if some
// external agent had written to it.
func (l *LoadLinkStoreConditional) InvalidateReservation(address uint64) {
	delete(l.reservations, address)
}

// ActiveReservations returns the number of addresses currently reserved.
func (l *LoadLinkStoreConditional) ActiveReservations() int {
	return len(l.reservations)
}
