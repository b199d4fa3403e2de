// Package geofence decides whether records plausibly belong to the target
// region. The primary signal is city whitelist membership; an optional radius
// backstop around a reference point admits edge-of-region addresses, and an
// explicit place denylist always excludes regardless of radius.
package geofence

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/baybio/biodex/internal/ingest"
	"github.com/baybio/biodex/internal/model"
)

// Exclusion reasons recorded on out-of-scope records.
const (
	ReasonDenylisted     = "explicitly denylisted"
	ReasonNotInWhitelist = "city not in whitelist"
	ReasonOutsideRadius  = "outside radius"
	ReasonCityConflict   = "unresolved city conflict"
	ReasonNoCity         = "no city signal"
)

// Config holds the region definition. Reference is ordered lng, lat to match
// the coordinate layout used throughout go-geom (SRID 4326, XY).
type Config struct {
	CityWhitelist []string
	PlaceDenylist []string
	Reference     geom.Coord
	RadiusKM      float64
}

// Fence evaluates records against one region configuration.
type Fence struct {
	whitelist map[string]bool
	denylist  []string
	reference geom.Coord
	radiusKM  float64
}

// New validates the configuration and builds a Fence. An empty whitelist or a
// blank denylist entry is a configuration error: proceeding would
// systematically misclassify every record, so the run must abort.
func New(cfg Config) (*Fence, error) {
	if len(cfg.CityWhitelist) == 0 {
		return nil, eris.New("geofence: city whitelist is empty")
	}

	whitelist := make(map[string]bool, len(cfg.CityWhitelist))
	for _, city := range cfg.CityWhitelist {
		key := cityKey(city)
		if key == "" {
			return nil, eris.Errorf("geofence: blank whitelist entry %q", city)
		}
		whitelist[key] = true
	}

	denylist := make([]string, 0, len(cfg.PlaceDenylist))
	for _, place := range cfg.PlaceDenylist {
		key := cityKey(place)
		if key == "" {
			return nil, eris.Errorf("geofence: blank denylist entry %q", place)
		}
		denylist = append(denylist, key)
	}

	return &Fence{
		whitelist: whitelist,
		denylist:  denylist,
		reference: cfg.Reference,
		radiusKM:  cfg.RadiusKM,
	}, nil
}

// Check evaluates one record. It returns true when the record is in scope,
// otherwise false with the specific reason.
func (f *Fence) Check(rec *model.CompanyRecord) (bool, string) {
	if rec.GeofenceOverride {
		return true, ""
	}

	// Denylist wins over everything, including the radius backstop, and is
	// checked against both the city field and the address text.
	if f.denylisted(rec.City) || f.denylisted(ingest.CityFromAddress(rec.Address)) {
		return false, ReasonDenylisted
	}

	if len(rec.CityConflict) > 0 {
		for _, city := range rec.CityConflict {
			if f.denylisted(city) {
				return false, ReasonDenylisted
			}
		}
		return false, ReasonCityConflict
	}

	if rec.City == "" {
		if city := ingest.CityFromAddress(rec.Address); city != "" {
			if f.whitelist[cityKey(city)] {
				return true, ""
			}
			return false, ReasonNotInWhitelist
		}
		return false, ReasonNoCity
	}

	if f.whitelist[cityKey(rec.City)] {
		return true, ""
	}
	return false, ReasonNotInWhitelist
}

// CheckCity applies the denylist and whitelist to a bare city name, used by
// enrichment to vet lookup candidates and reasoner self-reports.
func (f *Fence) CheckCity(city string) (bool, string) {
	if f.denylisted(city) {
		return false, ReasonDenylisted
	}
	if f.whitelist[cityKey(city)] {
		return true, ""
	}
	return false, ReasonNotInWhitelist
}

// CheckPoint applies the radius backstop to a coordinate (lng, lat). It never
// admits denylisted places; callers run CheckCity first. With no radius
// configured the backstop is disabled.
func (f *Fence) CheckPoint(point geom.Coord) (bool, string) {
	if f.radiusKM <= 0 {
		return false, ReasonOutsideRadius
	}
	if haversineKM(f.reference, point) <= f.radiusKM {
		return true, ""
	}
	return false, ReasonOutsideRadius
}

// CheckCandidate vets an enrichment candidate: the city must not be
// denylisted, and must either be whitelisted or fall inside the radius
// backstop.
func (f *Fence) CheckCandidate(city string, point *geom.Coord) (bool, string) {
	ok, reason := f.CheckCity(city)
	if ok {
		return true, ""
	}
	if reason == ReasonDenylisted {
		return false, reason
	}
	if point != nil {
		if ok, _ := f.CheckPoint(*point); ok {
			return true, ""
		}
		return false, ReasonOutsideRadius
	}
	return false, reason
}

// Filter partitions records into in-scope survivors and an audit list of
// exclusions. Excluded records are tagged, not deleted: every exclusion keeps
// its retrievable reason.
func Filter(f *Fence, records []model.CompanyRecord) (inScope, excluded []model.CompanyRecord) {
	for _, rec := range records {
		ok, reason := f.Check(&rec)
		if ok {
			inScope = append(inScope, rec)
			continue
		}
		rec.OutOfScope = true
		rec.OutOfScopeReason = reason
		excluded = append(excluded, rec)
	}

	zap.L().Info("geofence: filter complete",
		zap.Int("in_scope", len(inScope)),
		zap.Int("excluded", len(excluded)),
	)
	return inScope, excluded
}

func (f *Fence) denylisted(city string) bool {
	key := cityKey(city)
	if key == "" {
		return false
	}
	for _, d := range f.denylist {
		if key == d {
			return true
		}
	}
	return false
}

func cityKey(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
