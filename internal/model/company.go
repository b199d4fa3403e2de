package model

import (
	"sort"
	"time"
)

// Stage classifies where a company sits in its development lifecycle.
// The set is closed: records never carry free-text stages.
type Stage string

const (
	StagePreclinical Stage = "Preclinical"
	StagePhaseI      Stage = "Phase I"
	StagePhaseII     Stage = "Phase II"
	StagePhaseIII    Stage = "Phase III"
	StageCommercial  Stage = "Commercial"
	StagePlatform    Stage = "Platform"
	StageAcquired    Stage = "Acquired"
	StagePublic      Stage = "Public"
	StageUnknown     Stage = "Unknown"
)

// Stages lists every valid stage value.
var Stages = []Stage{
	StagePreclinical,
	StagePhaseI,
	StagePhaseII,
	StagePhaseIII,
	StageCommercial,
	StagePlatform,
	StageAcquired,
	StagePublic,
	StageUnknown,
}

// Valid reports whether s is a member of the closed stage set.
func (s Stage) Valid() bool {
	for _, v := range Stages {
		if s == v {
			return true
		}
	}
	return false
}

// CompanyRecord is the canonical unit flowing through the curation pipeline.
// One record is created per source row, merged during dedupe, tagged by the
// geofence, filled in by enrichment, and finally promoted or routed to review.
type CompanyRecord struct {
	ID             string `json:"id" csv:"-"`
	Name           string `json:"name" csv:"Company Name"`
	NormalizedName string `json:"normalized_name" csv:"-"`
	Website        string `json:"website,omitempty" csv:"Website"`
	DomainKey      string `json:"domain_key,omitempty" csv:"-"`
	Address        string `json:"address,omitempty" csv:"Address"`
	City           string `json:"city,omitempty" csv:"City"`
	State          string `json:"state,omitempty" csv:"-"`

	// CityConflict holds competing city values retained when dedupe could not
	// disambiguate. A non-empty conflict blocks promotion until resolved.
	CityConflict []string `json:"city_conflict,omitempty" csv:"-"`

	Stage       Stage  `json:"stage" csv:"Company Stage"`
	FocusArea   string `json:"focus_area,omitempty" csv:"Focus Areas"`
	Description string `json:"description,omitempty" csv:"-"`

	// Sources accumulates provenance tags across merges. Kept sorted so that
	// merge output is deterministic.
	Sources []string `json:"sources" csv:"-"`

	// Confidence is set only after enrichment, in [0,1].
	Confidence       *float64 `json:"confidence,omitempty" csv:"-"`
	ValidationReason string   `json:"validation_reason,omitempty" csv:"-"`

	// PlaceID is the lookup provider's opaque identifier, present only when a
	// lookup candidate was accepted. AddressFromLookup records whether Address
	// originated from that acceptance (the address-implies-place_id invariant).
	PlaceID           string `json:"place_id,omitempty" csv:"-"`
	AddressFromLookup bool   `json:"address_from_lookup,omitempty" csv:"-"`

	// GeofenceOverride marks records explicitly allowed through the region
	// check despite failing it.
	GeofenceOverride bool `json:"geofence_override,omitempty" csv:"-"`

	OutOfScope       bool   `json:"out_of_scope,omitempty" csv:"-"`
	OutOfScopeReason string `json:"out_of_scope_reason,omitempty" csv:"-"`

	LastVerified *time.Time `json:"last_verified,omitempty" csv:"-"`
}

// AddSource records a provenance tag, keeping Sources sorted and unique.
func (r *CompanyRecord) AddSource(source string) {
	if source == "" || r.HasSource(source) {
		return
	}
	r.Sources = append(r.Sources, source)
	sort.Strings(r.Sources)
}

// HasSource reports whether a provenance tag is present.
func (r *CompanyRecord) HasSource(source string) bool {
	for _, s := range r.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// PopulatedFields counts the non-empty substantive fields of the record. It
// drives most-complete survivor selection in dedupe and the monotonic
// completeness property of merges.
func (r *CompanyRecord) PopulatedFields() int {
	n := 0
	for _, v := range []string{
		r.Name, r.Website, r.Address, r.City, r.State, r.FocusArea, r.Description,
	} {
		if v != "" {
			n++
		}
	}
	if r.Stage != "" && r.Stage != StageUnknown {
		n++
	}
	return n
}

// SetConfidence sets Confidence, clamping to [0,1].
func (r *CompanyRecord) SetConfidence(c float64) {
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	r.Confidence = &c
}

// Conflict reports a domain key claimed by more than one distinct final
// record after dedupe. Contenders are excluded from promotion until the key
// is allow-listed or manually resolved.
type Conflict struct {
	DomainKey string   `json:"domain_key" csv:"Domain Key"`
	RecordIDs []string `json:"record_ids" csv:"Record IDs"`
	Names     []string `json:"names" csv:"Company Names"`
}

// ReviewItem is a record routed to the manual-review queue together with
// every reason it failed automated acceptance.
type ReviewItem struct {
	Record  CompanyRecord `json:"record"`
	Reasons []string      `json:"reasons"`
}

// Checkpoint persists per-record enrichment progress so an aborted run
// resumes instead of restarting.
type Checkpoint struct {
	RecordID  string    `json:"record_id"`
	Phase     string    `json:"phase"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}
