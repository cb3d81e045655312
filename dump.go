package kvengine

import (
	"fmt"
	"io"
	"strings"

	"github.com/gsauere/kv-engine/ds"
)

// Dump writes the statistics header followed by every slot, ordered by key
// and pending after committed. The table is locked for the duration.
func (ht *HashTable) Dump(w io.Writer) error {
	ht.locks.LockAll()
	defer ht.locks.UnlockAll()

	st := ht.valueStats
	_, err := fmt.Fprintf(w, "HashTable with numItems:%d numInMemory:%d numDeleted:%d numNonResident:%d "+
		"numTemp:%d numSystemItems:%d numPreparedSW:%d values:\n",
		st.NumItems(), st.NumItems(), st.NumDeletedItems(), st.NumNonResidentItems(),
		st.NumTempItems(), st.NumSystemItems(), st.NumPreparedSyncWrites())
	if err != nil {
		return err
	}

	idx := ds.NewSortedIndex()
	for _, head := range ht.values {
		for sv := head; sv != nil; sv = sv.next {
			// committed and pending share a key, suffix keeps both
			k := make([]byte, 0, len(sv.key)+1)
			k = append(append(k, sv.key...), '0'+byte(sv.committed))
			idx.Put(k, sv)
		}
	}
	idx.Ascend(func(_ []byte, value interface{}) bool {
		_, err = fmt.Fprintf(w, "    %s\n", value.(*Slot))
		return err == nil
	})
	return err
}

func (ht *HashTable) String() string {
	var b strings.Builder
	_ = ht.Dump(&b)
	return b.String()
}
