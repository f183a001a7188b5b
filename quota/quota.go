// Package quota provides in-memory implementations of the aidirector ledger.
// Redis and PostgreSQL ledgers live in the redis and postgres subpackages.
package quota

import (
	"sort"

	"github.com/ineyio/aidirector"
)

func sortByModel(recs []aidirector.UsageRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Model < recs[j].Model })
}
