package models

import (
	"sort"
	"strings"
)

const jobDelimiter = ";"

// AlertSubscription is a user's alert balance and the scanner jobs they
// follow.
type AlertSubscription struct {
	UserID      int64
	Balance     float64
	ScannerJobs []string
}

// ScannerJob maps a job id to its subscribers.
type ScannerJob struct {
	ScannerID string
	UserIDs   []string
}

// SplitJobs parses the delimited wire format, dropping blanks and duplicates
// while keeping first-seen order.
func SplitJobs(s string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, p := range strings.Split(s, jobDelimiter) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func JoinJobs(items []string) string {
	return strings.Join(items, jobDelimiter)
}

// ParseScannerJobs is SplitJobs for job ids: upper-cased, then deduplicated.
func ParseScannerJobs(s string) []string {
	return SplitJobs(strings.ToUpper(s))
}

// SortedCopy returns a sorted copy; used to compare job sets.
func SortedCopy(items []string) []string {
	c := append([]string(nil), items...)
	sort.Strings(c)
	return c
}
