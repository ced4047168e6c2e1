// Package buckets maps a vault's TVL to a target inter-harvest interval
// from an ordered threshold table.
package buckets

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bucket pairs a minimum TVL threshold with a harvest cadence target.
type Bucket struct {
	MinTVLUSD      decimal.Decimal `json:"minTvlUsd"`
	TargetInterval time.Duration   `json:"targetInterval"`
}

// Table is an ascending list of TVL buckets. Build with NewTable; an
// unvalidated table must never reach Resolve.
type Table struct {
	buckets []Bucket
}

// NewTable validates the threshold ordering. Thresholds must be strictly
// ascending with no duplicates; anything else is a configuration error and
// fails fast.
func NewTable(entries []Bucket) (Table, error) {
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1].MinTVLUSD, entries[i].MinTVLUSD
		switch cur.Cmp(prev) {
		case 0:
			return Table{}, fmt.Errorf("tvl bucket table: duplicate threshold %s at index %d", cur, i)
		case -1:
			return Table{}, fmt.Errorf("tvl bucket table: threshold %s at index %d is below preceding %s; table must be strictly ascending", cur, i, prev)
		}
	}
	return Table{buckets: entries}, nil
}

// MustTable is NewTable for static tables known correct at compile time.
func MustTable(entries []Bucket) Table {
	table, err := NewTable(entries)
	if err != nil {
		panic(err)
	}
	return table
}

// Len returns the number of buckets.
func (t Table) Len() int {
	return len(t.buckets)
}

// Resolve returns the bucket with the highest threshold at or below tvl,
// scanning from the end. ok is false when the TVL is below every threshold,
// meaning the vault should not be harvested on TVL grounds alone.
func (t Table) Resolve(tvlUSD decimal.Decimal) (Bucket, bool) {
	for i := len(t.buckets) - 1; i >= 0; i-- {
		if t.buckets[i].MinTVLUSD.LessThanOrEqual(tvlUSD) {
			return t.buckets[i], true
		}
	}
	return Bucket{}, false
}
