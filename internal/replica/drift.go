package replica

import (
	"fmt"
	"sort"
	"strings"
)

// missing is the count reported for a table absent from one side.
const missing int64 = -1

type TableCounts struct {
	Local  int64
	Remote int64
}

// DriftReport holds per-table counts for every table seen on either side.
type DriftReport struct {
	Tables     map[string]TableCounts
	Mismatched []string
}

func (r DriftReport) InSync() bool {
	return len(r.Mismatched) == 0
}

// Messages renders the report for operators.
func (r DriftReport) Messages() []string {
	if r.InSync() {
		return []string{"All table counts match. No sync needed."}
	}
	out := make([]string, 0, len(r.Mismatched))
	for _, t := range r.Mismatched {
		c := r.Tables[t]
		out = append(out, fmt.Sprintf("Mismatch in table '%s': Local=%d, Remote=%d", t, c.Local, c.Remote))
	}
	return out
}

func (r DriftReport) String() string {
	return strings.Join(r.Messages(), "\n")
}

// CompareCounts pairs up local and remote counts. A table present on only
// one side counts as -1 on the other.
func CompareCounts(local, remote map[string]int64) DriftReport {
	r := DriftReport{Tables: map[string]TableCounts{}}

	for t, n := range local {
		r.Tables[t] = TableCounts{Local: n, Remote: missing}
	}
	for t, n := range remote {
		c, ok := r.Tables[t]
		if !ok {
			c.Local = missing
		}
		c.Remote = n
		r.Tables[t] = c
	}

	for t, c := range r.Tables {
		if c.Local != c.Remote {
			r.Mismatched = append(r.Mismatched, t)
		}
	}
	sort.Strings(r.Mismatched)
	return r
}
