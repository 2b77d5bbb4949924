package hydrate

import (
	"context"
	"fmt"

	"github.com/c360/tabledger/errors"
	"github.com/c360/tabledger/persist"
	"github.com/c360/tabledger/store"
)

// migrate imports a legacy snapshot into the store. Events whose id is
// already present are skipped, so running migration against an
// already-migrated store is a no-op. Imported events get fresh sequence
// numbers after the replayed history (legacy seqs, if any, belong to a
// different numbering space) and are enqueued for durable persistence.
func (c *Coordinator) migrate(ctx context.Context, st *store.Store, dispatcher *persist.Dispatcher) (int, error) {
	legacy, err := c.opts.Legacy.ReadAll(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "hydrate", "migrate", "read legacy source")
	}

	migrated := 0
	for _, ev := range legacy {
		if ev == nil || ev.ID == "" {
			continue
		}
		if st.Contains(ev.ID) {
			continue
		}

		imported := *ev
		imported.Seq = st.LastSeq() + 1
		if !imported.Kind.IsValid() {
			return migrated, errors.WrapInvalid(
				fmt.Errorf("legacy event %s has no usable kind", ev.ID),
				"hydrate", "migrate", "kind check")
		}

		added, err := st.AddDirect(&imported)
		if err != nil {
			return migrated, errors.Wrap(err, "hydrate", "migrate",
				fmt.Sprintf("import legacy event %s", ev.ID))
		}
		if added {
			dispatcher.Enqueue(&imported)
			migrated++
		}
	}
	return migrated, nil
}
