package push

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/portal-sync/pkg/domain"
	"github.com/Sternrassler/portal-sync/pkg/logging"
	"github.com/Sternrassler/portal-sync/pkg/query"
)

// Applier writes deltas to a query store.
type Applier struct {
	store  *query.Store
	logger zerolog.Logger
}

// NewApplier creates an applier for store. A nil logger uses the global
// logger tagged "push".
func NewApplier(store *query.Store, logger *zerolog.Logger) *Applier {
	l := logging.NewLogger("push")
	if logger != nil {
		l = *logger
	}
	return &Applier{store: store, logger: l}
}

// Apply writes one delta to every cached list of its family and to the
// affected detail entries. Any failure, including a panic while mapping,
// invalidates the family so it is refetched; the error is returned for
// observation only and must not stop the channel.
func (a *Applier) Apply(d Delta) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("apply %s %s: panic: %v", d.Family, d.Action, r)
		}
		if err != nil {
			a.reconcile(d.Family, err)
		}
	}()

	switch d.Action {
	case ActionCreated, ActionUpdated:
		if len(d.Payload) == 0 {
			return nil
		}
		records, err := domain.DecodeRecords(d.Family, d.Payload)
		if err != nil {
			return fmt.Errorf("apply %s %s: %w", d.Family, d.Action, err)
		}
		a.store.ApplyUpsert(d.Family, records)
	case ActionDeleted:
		a.store.ApplyRemove(d.Family, d.IDs)
	default:
		return fmt.Errorf("apply %s: unknown action %d", d.Family, d.Action)
	}

	pushDeltas.WithLabelValues(d.Family.String(), d.Action.String()).Inc()
	a.logger.Debug().
		Str("family", d.Family.String()).
		Str("action", d.Action.String()).
		Int("records", len(d.Payload)).
		Int("ids", len(d.IDs)).
		Msg("Delta applied")
	return nil
}

// reconcile is the fallback for a delta that could not be applied: the
// family is marked stale and refetched through the store's invalidation hook.
func (a *Applier) reconcile(f domain.Family, cause error) {
	pushReconciles.WithLabelValues(f.String()).Inc()
	a.logger.Warn().
		Err(cause).
		Str("family", f.String()).
		Msg("Delta not applied, reconciling by refetch")

	if f.Valid() {
		a.store.Invalidate(f)
	}
}
