package internal

import (
	"github.com/meridian-io/duplicant/internal/types"
)

// statusTransitions lists, for each committed status, the statuses an
// alteration may stage next. Self transitions on active statuses exist so a
// fail mode only change can ride the same staged alteration path. REMOVED is
// absorbing.
var statusTransitions = map[types.Status][]types.Status{
	types.StatusInit: {
		types.StatusStart,
		types.StatusRemoved,
	},
	types.StatusStart: {
		types.StatusStart,
		types.StatusPause,
		types.StatusLogComplete,
		types.StatusRemoved,
	},
	types.StatusPause: {
		types.StatusStart,
		types.StatusPause,
		types.StatusRemoved,
	},
	types.StatusLogComplete: {
		types.StatusLogComplete,
		types.StatusAppComplete,
		types.StatusRemoved,
	},
	types.StatusAppComplete: {
		types.StatusAppComplete,
		types.StatusRemoved,
	},
	types.StatusRemoved: {},
}

// canTransition reports whether a task whose committed status is 'from' may
// stage an alteration to 'next'
func canTransition(from, next types.Status) bool {
	for _, s := range statusTransitions[from] {
		if s == next {
			return true
		}
	}
	return false
}
