// Package sf provides generic single-flight helpers for deduplicating
// concurrent function calls with the same key.
//
// [Flight] collapses concurrent calls that are in flight at the same
// time. [Memo] builds on it and keeps successful results forever, so a value
// for a key is constructed at most once even when many goroutines ask for it
// at the same moment.
//
// # Usage
//
//	var types sf.Memo[reflect.Type, proxyType]
//
//	pt, err := types.Load(iface, func() (*proxyType, error) {
//	    return classify(iface)
//	})
//
// Errors are not cached; the next Load for the key runs fn again.
package sf
