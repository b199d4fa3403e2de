// Package dedupe merges records referring to the same company across sources.
// Grouping keys are the registrable domain and the normalized name; the most
// complete record in a group survives, with gaps filled from the rest and
// provenance accumulated. Domain keys claimed by clearly distinct companies
// are reported as conflicts rather than force-merged.
package dedupe

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"go.uber.org/zap"

	"github.com/baybio/biodex/internal/ingest"
	"github.com/baybio/biodex/internal/model"
)

// sameCompanyThreshold is the minimum name similarity for two records sharing
// a domain key to be treated as variants of the same company. Below it the
// records stay distinct and the shared key becomes a Conflict.
const sameCompanyThreshold = 0.5

// Merge deduplicates the record set. It returns the merged survivors plus a
// report of domain keys claimed by more than one distinct final record; the
// validation gate later blocks those contenders unless the key is
// allow-listed. sourcePriority orders provenance tags for survivor tiebreaks
// (higher wins); unknown sources rank zero.
func Merge(records []model.CompanyRecord, sourcePriority map[string]int) ([]model.CompanyRecord, []model.Conflict) {
	groups := groupRecords(records)

	var merged []model.CompanyRecord
	byDomain := make(map[string][]model.CompanyRecord)

	for _, group := range groups {
		// A key group may still contain distinct companies (a shared or
		// squatted domain). Partition by name similarity before merging.
		for _, part := range partitionByName(group) {
			survivor := mergeGroup(part, sourcePriority)
			merged = append(merged, survivor)
			if survivor.DomainKey != "" {
				byDomain[survivor.DomainKey] = append(byDomain[survivor.DomainKey], survivor)
			}
		}
	}

	var conflicts []model.Conflict
	for domain, claimants := range byDomain {
		if len(claimants) < 2 {
			continue
		}
		c := model.Conflict{DomainKey: domain}
		for _, r := range claimants {
			c.RecordIDs = append(c.RecordIDs, r.ID)
			c.Names = append(c.Names, r.Name)
		}
		sort.Strings(c.RecordIDs)
		sort.Strings(c.Names)
		conflicts = append(conflicts, c)
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].DomainKey < conflicts[j].DomainKey })

	// Deterministic output order regardless of map iteration.
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].NormalizedName != merged[j].NormalizedName {
			return merged[i].NormalizedName < merged[j].NormalizedName
		}
		return merged[i].ID < merged[j].ID
	})

	zap.L().Info("dedupe: merge complete",
		zap.Int("input", len(records)),
		zap.Int("merged", len(merged)),
		zap.Int("domain_conflicts", len(conflicts)),
	)
	return merged, conflicts
}

// groupRecords clusters records that match on a shared non-empty domain key,
// or on identical normalized name when at least one side has no key.
func groupRecords(records []model.CompanyRecord) [][]model.CompanyRecord {
	parent := make([]int, len(records))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	byDomain := make(map[string]int)
	byNameKeyed := make(map[string]int)   // first record per name that carries a domain key
	byNameKeyless := make(map[string]int) // first record per name without one

	for i, r := range records {
		if r.DomainKey != "" {
			if j, ok := byDomain[r.DomainKey]; ok {
				union(j, i)
			} else {
				byDomain[r.DomainKey] = i
			}
			// Name matching only merges across a keyless side: two records
			// carrying different domain keys stay apart even with identical
			// names — that ambiguity belongs in the conflict report.
			if r.NormalizedName != "" {
				if j, ok := byNameKeyless[r.NormalizedName]; ok {
					union(j, i)
				}
				if _, ok := byNameKeyed[r.NormalizedName]; !ok {
					byNameKeyed[r.NormalizedName] = i
				}
			}
			continue
		}
		if r.NormalizedName != "" {
			if j, ok := byNameKeyed[r.NormalizedName]; ok {
				union(j, i)
			}
			if j, ok := byNameKeyless[r.NormalizedName]; ok {
				union(j, i)
			} else {
				byNameKeyless[r.NormalizedName] = i
			}
		}
	}

	clusters := make(map[int][]model.CompanyRecord)
	order := make([]int, 0)
	for i, r := range records {
		root := find(i)
		if _, ok := clusters[root]; !ok {
			order = append(order, root)
		}
		clusters[root] = append(clusters[root], r)
	}

	groups := make([][]model.CompanyRecord, 0, len(clusters))
	for _, root := range order {
		groups = append(groups, clusters[root])
	}
	return groups
}

// partitionByName splits a domain-key group into sub-groups of records whose
// names plausibly refer to the same company. Each sub-group is anchored on
// its most complete member.
func partitionByName(group []model.CompanyRecord) [][]model.CompanyRecord {
	if len(group) <= 1 {
		return [][]model.CompanyRecord{group}
	}

	remaining := append([]model.CompanyRecord(nil), group...)
	sort.SliceStable(remaining, func(i, j int) bool {
		return remaining[i].PopulatedFields() > remaining[j].PopulatedFields()
	})

	var parts [][]model.CompanyRecord
	for len(remaining) > 0 {
		anchor := remaining[0]
		part := []model.CompanyRecord{anchor}
		rest := remaining[:0:0]
		for _, r := range remaining[1:] {
			if nameSimilar(anchor.NormalizedName, r.NormalizedName) {
				part = append(part, r)
			} else {
				rest = append(rest, r)
			}
		}
		parts = append(parts, part)
		remaining = rest
	}
	return parts
}

// nameSimilar reports whether two normalized names plausibly belong to the
// same company. Empty names never contradict an anchor.
func nameSimilar(a, b string) bool {
	if a == "" || b == "" || a == b {
		return true
	}
	return levenshtein.Similarity(a, b, nil) >= sameCompanyThreshold
}

// mergeGroup selects the survivor and folds the losers' fields into it.
func mergeGroup(group []model.CompanyRecord, sourcePriority map[string]int) model.CompanyRecord {
	if len(group) == 1 {
		return group[0]
	}

	sort.SliceStable(group, func(i, j int) bool {
		pi, pj := group[i].PopulatedFields(), group[j].PopulatedFields()
		if pi != pj {
			return pi > pj
		}
		return maxPriority(group[i], sourcePriority) > maxPriority(group[j], sourcePriority)
	})

	survivor := group[0]
	for _, other := range group[1:] {
		fillGaps(&survivor, other)
		for _, s := range other.Sources {
			survivor.AddSource(s)
		}
	}

	// City conflict policy: competing non-empty city values with no address
	// to disambiguate are both retained, flagged, and left unresolved.
	resolveCity(&survivor, group)

	return survivor
}

// fillGaps copies any field the survivor is missing from the other record.
func fillGaps(survivor *model.CompanyRecord, other model.CompanyRecord) {
	if survivor.Website == "" && other.Website != "" {
		survivor.Website = other.Website
		survivor.DomainKey = other.DomainKey
	}
	if survivor.Address == "" {
		survivor.Address = other.Address
	}
	if survivor.State == "" {
		survivor.State = other.State
	}
	if survivor.FocusArea == "" {
		survivor.FocusArea = other.FocusArea
	}
	if survivor.Description == "" {
		survivor.Description = other.Description
	}
	if (survivor.Stage == "" || survivor.Stage == model.StageUnknown) && other.Stage.Valid() {
		survivor.Stage = other.Stage
	}
	if survivor.City == "" {
		survivor.City = other.City
	}
}

// resolveCity applies the conflict policy over all group members' cities.
func resolveCity(survivor *model.CompanyRecord, group []model.CompanyRecord) {
	cities := map[string]string{} // lowercased -> display form
	for _, r := range group {
		if r.City != "" {
			cities[normalizeCityKey(r.City)] = r.City
		}
	}
	if len(cities) <= 1 {
		return
	}

	// An address settles the dispute when its parsed city matches one value.
	if survivor.Address != "" {
		if parsed := ingest.CityFromAddress(survivor.Address); parsed != "" {
			if display, ok := cities[normalizeCityKey(parsed)]; ok {
				survivor.City = display
				survivor.CityConflict = nil
				return
			}
		}
	}

	var all []string
	for _, display := range cities {
		all = append(all, display)
	}
	sort.Strings(all)
	survivor.City = ""
	survivor.CityConflict = all
}

func normalizeCityKey(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

func maxPriority(r model.CompanyRecord, priority map[string]int) int {
	best := 0
	for _, s := range r.Sources {
		if p := priority[s]; p > best {
			best = p
		}
	}
	return best
}
