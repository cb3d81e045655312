package kvengine

// EjectSlot evicts sv under policy. EvictValue drops the value and keeps the
// metadata; EvictFull removes the whole slot. It returns false, counting a
// failed eject, when the eligibility predicate refuses sv.
func (ht *HashTable) EjectSlot(hbl *BucketLock, sv *Slot, policy EvictionPolicy) bool {
	if sv == nil {
		invalidArgf("EjectSlot: nil slot")
	}
	ht.checkMutation(hbl, sv.hash, "EjectSlot")

	if !ht.eligible(sv, policy) {
		ht.engine.NumFailedEjects.Add(1)
		return false
	}

	switch policy {
	case EvictValue:
		pre := ht.valueStats.prologue(sv)
		sv.ejectValue()
		ht.valueStats.epilogue(pre, sv)
		ht.engine.NumValueEjects.Add(1)
	case EvictFull:
		ht.UpdateMaxDeletedRevSeqno(sv.revSeqno)
		ht.ReleaseSlot(hbl, sv)
		ht.engine.NumFullEjects.Add(1)
	default:
		invalidArgf("EjectSlot: unknown eviction policy %v", policy)
	}
	ht.numEjects.Add(1)
	return true
}
