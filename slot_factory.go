package kvengine

// SlotFactory builds the slots a HashTable links into its chains. next is the
// chain the new slot takes ownership of; the factory must store it as the
// slot's successor. Implementations outside this package build slots with
// NewSlotFrom and CopySlotFrom.
type SlotFactory interface {
	NewSlot(itm *Item, next *Slot) *Slot
	CopySlot(other *Slot, next *Slot) *Slot
}

// DefaultSlotFactory builds plain heap allocated slots.
type DefaultSlotFactory struct{}

func (DefaultSlotFactory) NewSlot(itm *Item, next *Slot) *Slot {
	return NewSlotFrom(itm, next)
}

// CopySlot returns a copy of other chained in front of next. Value bytes are
// shared, as slots never modify value bytes in place.
func (DefaultSlotFactory) CopySlot(other *Slot, next *Slot) *Slot {
	return CopySlotFrom(other, next)
}

// EligibilityFunc decides whether a slot may be ejected under policy.
type EligibilityFunc func(sv *Slot, policy EvictionPolicy) bool

// DefaultEligibility defers to Slot.EligibleForEviction.
func DefaultEligibility(sv *Slot, policy EvictionPolicy) bool {
	return sv.EligibleForEviction(policy)
}
