package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageValid(t *testing.T) {
	assert.True(t, StagePreclinical.Valid())
	assert.True(t, StageUnknown.Valid())
	assert.False(t, Stage("Series A").Valid())
	assert.False(t, Stage("").Valid())
}

func TestAddSource_Dedupes(t *testing.T) {
	r := CompanyRecord{}
	r.AddSource("scraped")
	r.AddSource("curated")
	r.AddSource("scraped")
	r.AddSource("")
	assert.Equal(t, []string{"curated", "scraped"}, r.Sources)
}

func TestPopulatedFields(t *testing.T) {
	r := CompanyRecord{Name: "Acme Bio", City: "Berkeley"}
	assert.Equal(t, 2, r.PopulatedFields())

	r.Stage = StageUnknown
	assert.Equal(t, 2, r.PopulatedFields(), "Unknown stage does not count as populated")

	r.Stage = StageCommercial
	assert.Equal(t, 3, r.PopulatedFields())
}

func TestSetConfidence_Clamps(t *testing.T) {
	r := CompanyRecord{}
	r.SetConfidence(1.4)
	assert.Equal(t, 1.0, *r.Confidence)
	r.SetConfidence(-0.1)
	assert.Equal(t, 0.0, *r.Confidence)
	r.SetConfidence(0.75)
	assert.Equal(t, 0.75, *r.Confidence)
}
