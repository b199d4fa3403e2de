package enrich

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/baybio/biodex/internal/geofence"
	"github.com/baybio/biodex/internal/model"
	"github.com/baybio/biodex/internal/normalize"
	"github.com/baybio/biodex/internal/resilience"
	"github.com/baybio/biodex/internal/store"
	"github.com/baybio/biodex/pkg/places"
	"github.com/baybio/biodex/pkg/reasoner"
)

type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) TextSearch(ctx context.Context, query string, bias *places.LatLng) ([]places.Candidate, error) {
	args := m.Called(ctx, query, bias)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]places.Candidate), args.Error(1)
}

func (m *mockLookup) Details(ctx context.Context, placeID string) (*places.Candidate, error) {
	args := m.Called(ctx, placeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*places.Candidate), args.Error(1)
}

type mockReasoner struct {
	mock.Mock
}

func (m *mockReasoner) Discover(ctx context.Context, req reasoner.DiscoverRequest) (*reasoner.DiscoverResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reasoner.DiscoverResult), args.Error(1)
}

// memCache is an in-memory Cache for tests.
type memCache struct {
	mu          sync.Mutex
	lookups     map[string][]byte
	checkpoints map[string]model.Checkpoint
}

func newMemCache() *memCache {
	return &memCache{
		lookups:     map[string][]byte{},
		checkpoints: map[string]model.Checkpoint{},
	}
}

func (c *memCache) CachedLookup(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.lookups[key]
	return payload, ok, nil
}

func (c *memCache) PutLookup(_ context.Context, key string, payload []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups[key] = payload
	return nil
}

func (c *memCache) SaveCheckpoint(_ context.Context, cp model.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkpoints[cp.RecordID+"/"+cp.Phase] = cp
	return nil
}

func (c *memCache) GetCheckpoint(_ context.Context, recordID, phase string) (*model.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.checkpoints[recordID+"/"+phase]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func testFence(t *testing.T) *geofence.Fence {
	t.Helper()
	f, err := geofence.New(geofence.Config{
		CityWhitelist: []string{"Berkeley", "Emeryville", "Oakland", "South San Francisco"},
		PlaceDenylist: []string{"Davis"},
		Reference:     geom.Coord{-122.2730, 37.8715},
		RadiusKM:      40,
	})
	require.NoError(t, err)
	return f
}

func testEngine(t *testing.T, lookup places.Client, discover reasoner.Client, cache Cache) *Engine {
	t.Helper()
	return New(lookup, discover, testFence(t), cache, Config{
		Workers:              2,
		RequestsPerSecond:    1000,
		QueryQualifier:       "biotech",
		Region:               "East Bay",
		MultiTenantAddresses: []string{"2600 Tenth St, Berkeley, CA"},
		Retry:                resilience.Policy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
}

func record(name, website, city string) model.CompanyRecord {
	return model.CompanyRecord{
		ID:             uuid.New().String(),
		Name:           name,
		NormalizedName: normalize.Name(name),
		Website:        website,
		DomainKey:      normalize.Domain(website),
		City:           city,
		Stage:          model.StageUnknown,
	}
}

func TestRoutePathA(t *testing.T) {
	e := testEngine(t, &mockLookup{}, &mockReasoner{}, nil)

	assert.True(t, e.routePathA(record("Acme Bio", "https://acmebio.com", "Berkeley")))
	assert.False(t, e.routePathA(record("Acme Bio", "", "Berkeley")), "no website")
	assert.False(t, e.routePathA(record("Acme Bio", "https://facebook.com/acmebio", "Berkeley")), "aggregator")
	assert.False(t, e.routePathA(record("Acme Bio", "not a url", "Berkeley")), "unparsable website")
}

func TestPathA_FullScoreAccepted(t *testing.T) {
	// Name match, domain match, in-region address, operational business type:
	// 0.4 + 0.3 + 0.2 + 0.1 = 1.0.
	lookup := &mockLookup{}
	lookup.On("TextSearch", mock.Anything, "gene South San Francisco biotech", (*places.LatLng)(nil)).Return([]places.Candidate{
		{
			PlaceID:          "p-gene",
			Name:             "Genentech",
			FormattedAddress: "1 DNA Way, South San Francisco, CA 94080",
			Website:          "https://www.gene.com",
			Types:            []string{"pharmaceutical_company"},
			BusinessStatus:   "OPERATIONAL",
		},
	}, nil)

	e := testEngine(t, lookup, &mockReasoner{}, nil)
	rec := record("Genentech", "https://www.gene.com", "South San Francisco")

	enriched, review, err := e.Run(context.Background(), []model.CompanyRecord{rec})
	require.NoError(t, err)
	assert.Empty(t, review)
	require.Len(t, enriched, 1)

	got := enriched[0]
	assert.Equal(t, "https://www.gene.com", got.Website, "ground-truth website kept")
	assert.Equal(t, "1 DNA Way, South San Francisco, CA 94080", got.Address)
	assert.Equal(t, "p-gene", got.PlaceID)
	assert.True(t, got.AddressFromLookup)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 1.0, *got.Confidence, 0.001)
	assert.NotEmpty(t, got.ValidationReason)
	assert.NotNil(t, got.LastVerified)
	lookup.AssertExpectations(t)
}

func TestPathA_MultiTenantStrictGateRejects(t *testing.T) {
	// Weak name similarity and a domain mismatch at a known incubator
	// building fail the strict gate even with an otherwise plausible score.
	lookup := &mockLookup{}
	lookup.On("TextSearch", mock.Anything, mock.Anything, (*places.LatLng)(nil)).Return([]places.Candidate{
		{
			PlaceID:          "p-shared",
			Name:             "Helix Ventures",
			FormattedAddress: "2600 Tenth St, Suite 200, Berkeley, CA 94710",
			Website:          "https://helixventures.com",
			Types:            []string{"corporate_office"},
			BusinessStatus:   "OPERATIONAL",
		},
	}, nil)

	e := testEngine(t, lookup, &mockReasoner{}, nil)
	rec := record("Zephyr Diagnostics", "https://zephyrdx.com", "Berkeley")

	enriched, review, err := e.Run(context.Background(), []model.CompanyRecord{rec})
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, []string{ReasonMultiTenant}, review[0].Reasons)
	assert.Empty(t, enriched[0].PlaceID)
	require.NotNil(t, enriched[0].Confidence)
	assert.Zero(t, *enriched[0].Confidence)
}

func TestPathA_MultiTenantDomainMatchAccepted(t *testing.T) {
	// An exact domain match satisfies the strict gate at a shared building.
	lookup := &mockLookup{}
	lookup.On("TextSearch", mock.Anything, mock.Anything, (*places.LatLng)(nil)).Return([]places.Candidate{
		{
			PlaceID:          "p-acme",
			Name:             "Acme Bio Labs",
			FormattedAddress: "2600 Tenth St, Berkeley, CA 94710",
			Website:          "https://acmebio.com",
			Types:            []string{"corporate_office"},
			BusinessStatus:   "OPERATIONAL",
		},
	}, nil)

	e := testEngine(t, lookup, &mockReasoner{}, nil)
	rec := record("Acme Bio", "https://acmebio.com", "Berkeley")

	enriched, review, err := e.Run(context.Background(), []model.CompanyRecord{rec})
	require.NoError(t, err)
	assert.Empty(t, review)
	assert.Equal(t, "p-acme", enriched[0].PlaceID)
}

func TestPathA_NoCandidates(t *testing.T) {
	lookup := &mockLookup{}
	lookup.On("TextSearch", mock.Anything, mock.Anything, (*places.LatLng)(nil)).Return([]places.Candidate{}, nil)

	e := testEngine(t, lookup, &mockReasoner{}, nil)
	rec := record("Ghost Labs", "https://ghostlabs.com", "Berkeley")

	_, review, err := e.Run(context.Background(), []model.CompanyRecord{rec})
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, []string{ReasonNoAcceptedCandidate}, review[0].Reasons)
}

func TestPathA_LookupExhaustionRoutesToReview(t *testing.T) {
	lookup := &mockLookup{}
	lookup.On("TextSearch", mock.Anything, mock.Anything, (*places.LatLng)(nil)).
		Return(nil, &places.APIError{StatusCode: 503})

	e := testEngine(t, lookup, &mockReasoner{}, nil)
	rec := record("Acme Bio", "https://acmebio.com", "Berkeley")

	enriched, review, err := e.Run(context.Background(), []model.CompanyRecord{rec})
	require.NoError(t, err, "review routing is not a run failure")
	require.Len(t, review, 1)
	assert.Equal(t, []string{ReasonLookupUnavailable}, review[0].Reasons)
	require.NotNil(t, enriched[0].Confidence)
	assert.Zero(t, *enriched[0].Confidence)
}

func TestPathB_AcceptedWithPlaceIDBackfill(t *testing.T) {
	discover := &mockReasoner{}
	discover.On("Discover", mock.Anything, mock.MatchedBy(func(req reasoner.DiscoverRequest) bool {
		return req.CompanyName == "Acme Bio" && req.CityHint == "Berkeley" && req.Region == "East Bay"
	})).Return(&reasoner.DiscoverResult{
		Website:    "https://acmebio.com",
		Address:    "1 Main St, Berkeley, CA 94710",
		City:       "Berkeley",
		Confidence: 0.9,
		Validation: reasoner.Validation{InRegion: true, BrandMatches: true, IsBusiness: true, Reasoning: "exact match"},
	}, nil)

	lookup := &mockLookup{}
	lookup.On("TextSearch", mock.Anything, "Acme Bio Berkeley", (*places.LatLng)(nil)).Return([]places.Candidate{
		{PlaceID: "p-acme", Name: "Acme Bio", FormattedAddress: "1 Main St, Berkeley, CA 94710"},
	}, nil)

	e := testEngine(t, lookup, discover, nil)
	rec := record("Acme Bio", "", "Berkeley")

	enriched, review, err := e.Run(context.Background(), []model.CompanyRecord{rec})
	require.NoError(t, err)
	assert.Empty(t, review)

	got := enriched[0]
	assert.Equal(t, "https://acmebio.com", got.Website)
	assert.Equal(t, "acmebio.com", got.DomainKey)
	assert.Equal(t, "p-acme", got.PlaceID)
	assert.True(t, got.AddressFromLookup)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.9, *got.Confidence, 0.001)
	assert.Contains(t, got.ValidationReason, "discovery:")
}

func TestPathB_UnconfirmedAddressNotMarkedLookupSourced(t *testing.T) {
	discover := &mockReasoner{}
	discover.On("Discover", mock.Anything, mock.Anything).Return(&reasoner.DiscoverResult{
		Website:    "https://acmebio.com",
		Address:    "1 Main St, Berkeley, CA 94710",
		City:       "Berkeley",
		Confidence: 0.8,
		Validation: reasoner.Validation{InRegion: true, BrandMatches: true, IsBusiness: true, Reasoning: "ok"},
	}, nil)

	lookup := &mockLookup{}
	lookup.On("TextSearch", mock.Anything, mock.Anything, (*places.LatLng)(nil)).Return([]places.Candidate{}, nil)

	e := testEngine(t, lookup, discover, nil)
	enriched, _, err := e.Run(context.Background(), []model.CompanyRecord{record("Acme Bio", "", "Berkeley")})
	require.NoError(t, err)

	got := enriched[0]
	assert.Empty(t, got.PlaceID)
	assert.False(t, got.AddressFromLookup)
	assert.Equal(t, "1 Main St, Berkeley, CA 94710", got.Address)
}

func TestPathB_GateFailuresReject(t *testing.T) {
	cases := []struct {
		name   string
		result reasoner.DiscoverResult
	}{
		{"out of region", reasoner.DiscoverResult{
			Website: "https://x.com", City: "Sacramento", Confidence: 0.95,
			Validation: reasoner.Validation{InRegion: false, BrandMatches: true, IsBusiness: true},
		}},
		{"aggregator website", reasoner.DiscoverResult{
			Website: "https://facebook.com/xbio", City: "Berkeley", Confidence: 0.95,
			Validation: reasoner.Validation{InRegion: true, BrandMatches: true, IsBusiness: true},
		}},
		{"not a business", reasoner.DiscoverResult{
			Website: "https://x.com", City: "Berkeley", Confidence: 0.95,
			Validation: reasoner.Validation{InRegion: true, BrandMatches: true, IsBusiness: false},
		}},
		{"low confidence", reasoner.DiscoverResult{
			Website: "https://x.com", City: "Berkeley", Confidence: 0.5,
			Validation: reasoner.Validation{InRegion: true, BrandMatches: true, IsBusiness: true},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			discover := &mockReasoner{}
			result := tc.result
			discover.On("Discover", mock.Anything, mock.Anything).Return(&result, nil)

			e := testEngine(t, &mockLookup{}, discover, nil)
			_, review, err := e.Run(context.Background(), []model.CompanyRecord{record("X Bio", "", "")})
			require.NoError(t, err)
			require.Len(t, review, 1)
			assert.Equal(t, []string{ReasonNoAcceptedCandidate}, review[0].Reasons)
		})
	}
}

func TestRun_SearchCacheHit(t *testing.T) {
	lookup := &mockLookup{}
	lookup.On("TextSearch", mock.Anything, mock.Anything, (*places.LatLng)(nil)).Return([]places.Candidate{
		{PlaceID: "p1", Name: "Acme Bio", FormattedAddress: "1 Main St, Berkeley, CA", Website: "https://acmebio.com",
			Types: []string{"corporate_office"}, BusinessStatus: "OPERATIONAL"},
	}, nil).Once()

	cache := newMemCache()
	e := testEngine(t, lookup, &mockReasoner{}, cache)

	// Two distinct records with the same domain produce the same query; the
	// second is served from the cache.
	a := record("Acme Bio", "https://acmebio.com", "Berkeley")
	b := record("Acme Bio", "https://acmebio.com", "Berkeley")

	_, _, err := e.Run(context.Background(), []model.CompanyRecord{a})
	require.NoError(t, err)
	_, _, err = e.Run(context.Background(), []model.CompanyRecord{b})
	require.NoError(t, err)

	lookup.AssertNumberOfCalls(t, "TextSearch", 1)

	// The entry lives under the store's hashed key space.
	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Contains(t, cache.lookups, store.CacheKey("text_search", "acmebio Berkeley biotech"))
}

func TestRun_CheckpointResume(t *testing.T) {
	lookup := &mockLookup{}
	lookup.On("TextSearch", mock.Anything, mock.Anything, (*places.LatLng)(nil)).Return([]places.Candidate{
		{PlaceID: "p1", Name: "Acme Bio", FormattedAddress: "1 Main St, Berkeley, CA", Website: "https://acmebio.com",
			Types: []string{"corporate_office"}, BusinessStatus: "OPERATIONAL"},
	}, nil)

	cache := newMemCache()
	e := testEngine(t, lookup, &mockReasoner{}, cache)
	rec := record("Acme Bio", "https://acmebio.com", "Berkeley")

	first, _, err := e.Run(context.Background(), []model.CompanyRecord{rec})
	require.NoError(t, err)

	// Clear the lookup cache but keep checkpoints: the re-run restores the
	// outcome without touching the collaborator again.
	cache.mu.Lock()
	cache.lookups = map[string][]byte{}
	cache.mu.Unlock()

	second, _, err := e.Run(context.Background(), []model.CompanyRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, first[0].PlaceID, second[0].PlaceID)
	lookup.AssertNumberOfCalls(t, "TextSearch", 1)
}

func TestMultiTenantMatching(t *testing.T) {
	e := testEngine(t, &mockLookup{}, &mockReasoner{}, nil)

	assert.True(t, e.multiTenant("2600 Tenth St, Berkeley, CA 94710"))
	assert.True(t, e.multiTenant("2600 Tenth St., Berkeley, CA"), "punctuation folded")
	assert.False(t, e.multiTenant("1 Main St, Berkeley, CA"))
	assert.False(t, e.multiTenant(""))
}
