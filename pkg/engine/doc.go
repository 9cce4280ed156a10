// Package engine wires the sync engine together for one session.
//
// A Session owns the API client, the validator store, the query store, the
// push client and the poller. Nothing is shared between sessions, so several
// can run side by side in one process:
//
//	cfg, _ := config.Load()
//	s, err := engine.New(cfg)
//	if err != nil {
//	    return err
//	}
//	s.Start(ctx)
//	defer s.Stop()
//
//	entry, ok := s.Store().Read(query.List(domain.FamilyEvents, nil))
//
// Request responses and push deltas both write through the query store.
// When a delta cannot be applied the store invalidates the family and the
// session refetches it in the background.
package engine
