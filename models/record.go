package models

import "sort"

// Reserved provenance keys stamped on every record
const (
	KeyPageNumber   = "_page_number"
	KeyPageURL      = "_page_url"
	KeyGroupID      = "_group_id"
	KeyGroupIndex   = "_group_index"
	KeyElementIndex = "_element_index"
)

// ReservedKeys lists the provenance keys in their canonical order
var ReservedKeys = []string{KeyPageNumber, KeyPageURL, KeyGroupID, KeyGroupIndex, KeyElementIndex}

// Record is one flat scraped row: handler output merged with provenance keys
type Record map[string]any

// Provenance describes where a record came from on a crawled page
type Provenance struct {
	PageNumber   int
	PageURL      string
	GroupID      int
	GroupIndex   int
	ElementIndex int
}

// IsReserved reports whether key is one of the provenance keys
func IsReserved(key string) bool {
	switch key {
	case KeyPageNumber, KeyPageURL, KeyGroupID, KeyGroupIndex, KeyElementIndex:
		return true
	}
	return false
}

// NewRecord returns a record holding only the provenance keys
func NewRecord(p Provenance) Record {
	return Record{
		KeyPageNumber:   p.PageNumber,
		KeyPageURL:      p.PageURL,
		KeyGroupID:      p.GroupID,
		KeyGroupIndex:   p.GroupIndex,
		KeyElementIndex: p.ElementIndex,
	}
}

// Merge copies handler output into r. Reserved keys always keep their
// provenance value; the offending keys are returned so the caller can warn.
// Keys already present from an earlier handler are overwritten.
func (r Record) Merge(data map[string]any) (dropped []string) {
	for k, v := range data {
		if IsReserved(k) {
			dropped = append(dropped, k)
			continue
		}
		r[k] = v
	}
	sort.Strings(dropped)
	return dropped
}

// Keys returns the union of keys over records in first-seen order
func Keys(records []Record) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, rec := range records {
		// reserved keys first, new keys of each record sorted
		for _, k := range ReservedKeys {
			if _, ok := rec[k]; ok && !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		var rest []string
		for k := range rec {
			if !seen[k] {
				rest = append(rest, k)
			}
		}
		sort.Strings(rest)
		for _, k := range rest {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}
