package chipset

import "encoding/gob"

func init() {
	gob.Register(&ioapicSnapshot{})
	gob.Register(&ioapicEntrySnapshot{})
}
