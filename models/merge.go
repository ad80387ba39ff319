package models

import (
	"sort"
	"time"
)

// DateOnly schneidet die Uhrzeit ab; Empfehlungsdaten sind Kalendertage in UTC.
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Merge überträgt eine erneute Empfehlung auf den gespeicherten Eintrag.
//
// Gespeicherte, nicht-leere Felder bleiben erhalten; leere Felder werden aus dem
// eingehenden Eintrag befüllt. RecommendedDate bleibt das früheste Datum,
// LastRecommendedDate das späteste. RecommendCount zählt nur echte spätere
// Empfehlungen, ein erneuter Import derselben Nachricht ändert nichts.
// Topics werden vereinigt. Ändert sich der Abstract, wird das Embedding als veraltet markiert.
func Merge(existing, incoming *Paper) bool {
	changed := false

	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&existing.Authors, incoming.Authors)
	fill(&existing.Venue, incoming.Venue)
	fill(&existing.Year, incoming.Year)
	fill(&existing.Link, incoming.Link)

	if existing.Abstract == "" && incoming.Abstract != "" {
		existing.Abstract = incoming.Abstract
		existing.EmbeddingHash = ""
		changed = true
	}

	in := DateOnly(incoming.RecommendedDate)
	if !in.IsZero() {
		if existing.RecommendedDate.IsZero() || in.Before(DateOnly(existing.RecommendedDate)) {
			existing.RecommendedDate = in
			changed = true
		}
		last := DateOnly(existing.LastRecommendedDate)
		if in.After(last) {
			if !last.IsZero() {
				existing.RecommendCount++
			}
			existing.LastRecommendedDate = in
			changed = true
		}
	}
	if existing.RecommendCount < 1 {
		existing.RecommendCount = 1
		changed = true
	}

	if merged, ok := UnionTopics(existing.Topics, incoming.Topics); ok {
		existing.Topics = merged
		changed = true
	}
	return changed
}

// UnionTopics vereinigt zwei Tag-Mengen sortiert; ok ist false, wenn a bereits alles enthält.
func UnionTopics(a, b []string) ([]string, bool) {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, t := range a {
		set[t] = struct{}{}
	}
	added := false
	for _, t := range b {
		if _, ok := set[t]; !ok {
			set[t] = struct{}{}
			added = true
		}
	}
	if !added {
		return a, false
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, true
}
