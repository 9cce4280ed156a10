// Package query holds the session's query cache: list and detail results
// keyed by descriptor, written by request responses and push deltas and read
// by subscribers.
//
// Every write is a single read-modify-write under the store mutex and always
// produces a new items slice, so a subscriber comparing slice identity sees
// every change. Subscribers are called after the mutex is released.
//
// Usage:
//
//	store := query.New(query.DefaultConfig())
//	desc := query.List(domain.FamilyEvents, nil)
//	store.SetList(desc, query.Result{Items: events})
//
//	unsubscribe := store.Subscribe(desc, func(e query.Entry, ok bool) {
//	    // render e.List.Items
//	})
//	defer unsubscribe()
package query
