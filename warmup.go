package kvengine

// InsertFromWarmup loads itm from disk into the table.
//
// A key missing from memory is added, without its value if keyMetaDataOnly.
// An existing slot with a different CAS only adopts the metadata of itm when
// its own CAS is still 0; otherwise InvalidCas is returned. The slot ends up
// clean and, when eject is set, value ejected under policy. NotFound is the
// success status.
func (ht *HashTable) InsertFromWarmup(itm *Item, eject, keyMetaDataOnly bool, policy EvictionPolicy) MutationStatus {
	var res FindResult
	if itm.IsCommitted() {
		res = ht.FindOnlyCommitted(itm.Key)
	} else {
		res = ht.FindOnlyPrepared(itm.Key)
	}
	defer res.Unlock()

	sv := res.Slot
	if sv == nil {
		sv = ht.AddNewSlot(res.Lock, itm)
		if keyMetaDataOnly {
			pre := ht.valueStats.prologue(sv)
			sv.ejectValue()
			ht.valueStats.epilogue(pre, sv)
		}
		sv.newCacheItem = false
	} else {
		if keyMetaDataOnly {
			// already in memory, nothing to learn from the key alone
			return InvalidCas
		}
		if sv.cas != itm.Cas {
			if sv.cas != 0 {
				return InvalidCas
			}
			sv.cas = itm.Cas
			sv.flags = itm.Flags
			sv.expiry = itm.Expiry
			sv.revSeqno = itm.RevSeqno
		}
		if !sv.resident {
			ht.RestoreValue(res.Lock, itm, sv)
		}
	}

	sv.markClean()

	if eject && !keyMetaDataOnly {
		ht.EjectSlot(res.Lock, sv, policy)
	}
	return NotFound
}
