package discover

import (
	"sort"
)

// KeyChange describes an incompatible key change detected between a
// live collection's current key and a discovered binding's key (§4.9,
// S3, S4).
type KeyChange struct {
	Collection string
	OldKey     []string
	NewKey     []string
}

// DetectKeyChange compares oldKey (the live collection's current key)
// against newKey (the discovered key) and reports whether they
// constitute an incompatible change — any difference in the key set,
// since Flow collection keys are not a point on a compatibility
// lattice the way optional-field additions are.
func DetectKeyChange(collection string, oldKey, newKey []string) (KeyChange, bool) {
	if keysEqual(oldKey, newKey) {
		return KeyChange{}, false
	}
	return KeyChange{Collection: collection, OldKey: oldKey, NewKey: newKey}, true
}

func keysEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	var sa, sb = append([]string{}, a...), append([]string{}, b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
