// Package stage classifies companies into the closed stage set via a single
// versioned rule table: an ordered list of (predicate, stage) pairs evaluated
// in priority order, with a documented fallback to Unknown. The waterfall is
// explicit and testable rather than scattered across call sites.
package stage

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/baybio/biodex/internal/model"
)

// Rule maps a predicate over a record's text to a stage. A rule matches when
// any keyword appears in the haystack, or when the optional pattern matches.
type Rule struct {
	// Keywords are matched case-insensitively as substrings.
	Keywords []string `yaml:"keywords"`

	// Pattern is an optional regular expression, applied case-insensitively.
	Pattern string `yaml:"pattern"`

	Stage model.Stage `yaml:"stage"`

	re *regexp.Regexp
}

// Table is an ordered rule list. Earlier rules win.
type Table struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// Default returns the built-in rule table. The order is deliberate: the most
// specific lifecycle signals (acquisition, public listing) outrank trial
// phases, which outrank the broad platform/commercial keywords.
func Default() *Table {
	t := &Table{
		Version: "v2",
		Rules: []Rule{
			{Keywords: []string{"acquired by", "wholly owned subsidiary", "merged with"}, Stage: model.StageAcquired},
			{Keywords: []string{"nasdaq", "nyse", "publicly traded", "ipo"}, Stage: model.StagePublic},
			{Keywords: []string{"phase iii", "phase 3", "pivotal trial"}, Stage: model.StagePhaseIII},
			{Keywords: []string{"phase ii", "phase 2"}, Pattern: `phase\s*(?:ii\b|2\b)`, Stage: model.StagePhaseII},
			{Keywords: []string{"phase i", "phase 1", "first-in-human"}, Pattern: `phase\s*(?:i\b|1\b)`, Stage: model.StagePhaseI},
			{Keywords: []string{"fda approved", "commercial stage", "commercially available", "on the market", "marketed product"}, Stage: model.StageCommercial},
			{Keywords: []string{"preclinical", "pre-clinical", "discovery stage", "ind-enabling"}, Stage: model.StagePreclinical},
			{Keywords: []string{"platform", "contract research", "cro ", "cdmo", "tools and services", "reagents", "instrumentation"}, Stage: model.StagePlatform},
		},
	}
	if err := t.compile(); err != nil {
		// The built-in table is static; a bad pattern is a programming error.
		panic(err)
	}
	return t
}

// Load reads a rule table from a YAML file. A malformed table is a
// configuration error and aborts the run.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "stage: read rule table %s", path)
	}

	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrapf(err, "stage: parse rule table %s", path)
	}
	if len(t.Rules) == 0 {
		return nil, eris.Errorf("stage: rule table %s has no rules", path)
	}
	for i, r := range t.Rules {
		if !r.Stage.Valid() {
			return nil, eris.Errorf("stage: rule %d has invalid stage %q", i, r.Stage)
		}
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) compile() error {
	for i := range t.Rules {
		if t.Rules[i].Pattern == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + t.Rules[i].Pattern)
		if err != nil {
			return eris.Wrapf(err, "stage: compile rule %d pattern", i)
		}
		t.Rules[i].re = re
	}
	return nil
}

// Classify returns the stage for a record. Records that already carry a valid
// non-Unknown stage keep it; otherwise the first matching rule wins, and a
// record matching no rule falls back to Unknown.
func (t *Table) Classify(rec *model.CompanyRecord) model.Stage {
	if rec.Stage.Valid() && rec.Stage != model.StageUnknown {
		return rec.Stage
	}

	haystack := strings.ToLower(strings.Join([]string{rec.Description, rec.FocusArea, rec.Name}, " "))
	for _, rule := range t.Rules {
		if rule.matches(haystack) {
			return rule.Stage
		}
	}
	return model.StageUnknown
}

// Apply classifies every record in place.
func (t *Table) Apply(records []model.CompanyRecord) {
	for i := range records {
		records[i].Stage = t.Classify(&records[i])
	}
}

func (r *Rule) matches(haystack string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	if r.re != nil {
		return r.re.MatchString(haystack)
	}
	return false
}
