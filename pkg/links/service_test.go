package links

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/racegraph/platform/pkg/common/models"
	"github.com/racegraph/platform/pkg/matching"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-memory Store for exercising the lifecycle rules
// without postgres. Each method is individually synchronized, matching the
// independent per-item transactions of bulk operations.
type memoryStore struct {
	mu         sync.Mutex
	userLinks  map[string]*UserDriverLink
	eventLinks map[string]*EventDriverLink
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		userLinks:  make(map[string]*UserDriverLink),
		eventLinks: make(map[string]*EventDriverLink),
	}
}

func pairKey(a, b uuid.UUID) string {
	return a.String() + "|" + b.String()
}

func (m *memoryStore) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *memoryStore) GetUserDriverLink(ctx context.Context, userID, driverID uuid.UUID) (*UserDriverLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.userLinks[pairKey(userID, driverID)]; ok {
		cp := *link
		return &cp, nil
	}
	return nil, nil
}

func (m *memoryStore) SaveUserDriverLink(ctx context.Context, link *UserDriverLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	cp := *link
	m.userLinks[pairKey(link.UserID, link.DriverID)] = &cp
	return nil
}

func (m *memoryStore) GetEventDriverLink(ctx context.Context, userID, eventID uuid.UUID) (*EventDriverLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.eventLinks[pairKey(userID, eventID)]; ok {
		cp := *link
		return &cp, nil
	}
	return nil, nil
}

func (m *memoryStore) SaveEventDriverLink(ctx context.Context, link *EventDriverLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	cp := *link
	m.eventLinks[pairKey(link.UserID, link.EventID)] = &cp
	return nil
}

func (m *memoryStore) EventLinksByPair(ctx context.Context, userID, driverID uuid.UUID) ([]EventDriverLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var links []EventDriverLink
	for _, link := range m.eventLinks {
		if link.UserID == userID && link.DriverID == driverID {
			links = append(links, *link)
		}
	}
	return links, nil
}

func (m *memoryStore) AdoptOrphans(ctx context.Context, userID, driverID, linkID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var adopted int64
	for _, link := range m.eventLinks {
		if link.UserID == userID && link.DriverID == driverID && link.UserDriverLinkID == nil {
			id := linkID
			link.UserDriverLinkID = &id
			link.UpdatedAt = time.Now().UTC()
			adopted++
		}
	}
	return adopted, nil
}

func (m *memoryStore) CountDistinctEvents(ctx context.Context, userID, driverID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make(map[uuid.UUID]struct{})
	for _, link := range m.eventLinks {
		if link.UserID == userID && link.DriverID == driverID {
			events[link.EventID] = struct{}{}
		}
	}
	return int64(len(events)), nil
}

type fakeIdentities struct {
	identity models.UserIdentity
	err      error
}

func (f *fakeIdentities) GetIdentity(ctx context.Context, userID uuid.UUID) (models.UserIdentity, error) {
	if f.err != nil {
		return models.UserIdentity{}, f.err
	}
	return f.identity, nil
}

type fakeEntries struct {
	entries map[uuid.UUID][]models.EventEntryRef
	err     error
}

func (f *fakeEntries) EntriesByEvent(ctx context.Context, eventID uuid.UUID) ([]models.EventEntryRef, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[eventID], nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *capturingPublisher) PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestService(store Store, identities IdentitySource, entries EntrySource) *Service {
	return NewService(store, matching.DefaultConfig(), identities, entries, nil, nil)
}

func seedEventLink(t *testing.T, store *memoryStore, userID, eventID, driverID uuid.UUID, score float64, status LinkStatus, matchType matching.MatchType) *EventDriverLink {
	t.Helper()
	link := &EventDriverLink{
		UserID:          userID,
		EventID:         eventID,
		DriverID:        driverID,
		MatchType:       matchType,
		SimilarityScore: score,
		Status:          status,
		MatchedAt:       time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.SaveEventDriverLink(context.Background(), link))
	return link
}

func TestUpdateDriverLinkStatusNoEvidence(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, nil, nil)

	_, err := svc.UpdateDriverLinkStatus(context.Background(), uuid.New(), uuid.New(), StatusConfirmed)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Empty(t, store.userLinks, "failed resolve must not create rows")
	assert.Empty(t, store.eventLinks)
}

func TestUpdateDriverLinkStatusRejectsInvalidStatus(t *testing.T) {
	svc := newTestService(newMemoryStore(), nil, nil)

	for _, status := range []LinkStatus{StatusSuggested, StatusConflict, "verified"} {
		_, err := svc.UpdateDriverLinkStatus(context.Background(), uuid.New(), uuid.New(), status)
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err), "status %q", status)
	}
}

func TestUpdateDriverLinkStatusSynthesizesFromEvidence(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, nil, nil)

	userID := uuid.New()
	driverID := uuid.New()
	seedEventLink(t, store, userID, uuid.New(), driverID, 0.87, StatusSuggested, matching.MatchTypeFuzzy)
	strongest := seedEventLink(t, store, userID, uuid.New(), driverID, 0.91, StatusSuggested, matching.MatchTypeFuzzy)

	link, err := svc.UpdateDriverLinkStatus(context.Background(), userID, driverID, StatusConfirmed)
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, link.Status)
	assert.Equal(t, "manual", link.MatcherID)
	assert.Equal(t, strongest.SimilarityScore, link.SimilarityScore)
	assert.Equal(t, strongest.MatchedAt, link.MatchedAt)
	require.NotNil(t, link.ConfirmedAt)
	assert.Nil(t, link.RejectedAt)

	// Every evidence record now references the synthesized aggregate.
	for _, evt := range store.eventLinks {
		require.NotNil(t, evt.UserDriverLinkID)
		assert.Equal(t, link.ID, *evt.UserDriverLinkID)
	}
}

func TestUpdateDriverLinkStatusAdoptsLateOrphans(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, nil, nil)

	userID := uuid.New()
	driverID := uuid.New()
	seedEventLink(t, store, userID, uuid.New(), driverID, 0.9, StatusSuggested, matching.MatchTypeFuzzy)

	link, err := svc.UpdateDriverLinkStatus(context.Background(), userID, driverID, StatusConfirmed)
	require.NoError(t, err)

	// A new event ingested after the aggregate exists lands unadopted.
	orphan := seedEventLink(t, store, userID, uuid.New(), driverID, 0.88, StatusSuggested, matching.MatchTypeFuzzy)
	require.Nil(t, store.eventLinks[pairKey(userID, orphan.EventID)].UserDriverLinkID)

	_, err = svc.UpdateDriverLinkStatus(context.Background(), userID, driverID, StatusConfirmed)
	require.NoError(t, err)

	adopted := store.eventLinks[pairKey(userID, orphan.EventID)]
	require.NotNil(t, adopted.UserDriverLinkID)
	assert.Equal(t, link.ID, *adopted.UserDriverLinkID)
}

func TestUpdateDriverLinkStatusReversible(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, nil, nil)

	userID := uuid.New()
	driverID := uuid.New()
	seedEventLink(t, store, userID, uuid.New(), driverID, 0.9, StatusSuggested, matching.MatchTypeFuzzy)

	confirmed, err := svc.UpdateDriverLinkStatus(context.Background(), userID, driverID, StatusConfirmed)
	require.NoError(t, err)
	matchedAt := confirmed.MatchedAt

	rejected, err := svc.UpdateDriverLinkStatus(context.Background(), userID, driverID, StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectedAt)
	assert.Nil(t, rejected.ConfirmedAt, "confirming timestamp must be cleared on reject")
	assert.Equal(t, matchedAt, rejected.MatchedAt, "matchedAt is immutable after creation")

	reconfirmed, err := svc.UpdateDriverLinkStatus(context.Background(), userID, driverID, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, reconfirmed.Status)
	require.NotNil(t, reconfirmed.ConfirmedAt)
	assert.Nil(t, reconfirmed.RejectedAt)
	assert.Equal(t, matchedAt, reconfirmed.MatchedAt)
}

func TestUpdateByEventLeavesAggregateAlone(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, nil, nil)

	userID := uuid.New()
	driverID := uuid.New()
	eventID := uuid.New()
	seedEventLink(t, store, userID, eventID, driverID, 0.9, StatusSuggested, matching.MatchTypeFuzzy)

	_, err := svc.UpdateDriverLinkStatus(context.Background(), userID, driverID, StatusConfirmed)
	require.NoError(t, err)

	evt, err := svc.UpdateDriverLinkStatusByEvent(context.Background(), userID, eventID, StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, evt.Status)
	require.NotNil(t, evt.RejectedAt)

	agg := store.userLinks[pairKey(userID, driverID)]
	require.NotNil(t, agg)
	assert.Equal(t, StatusConfirmed, agg.Status, "event-level override must not touch the aggregate")
}

func TestUpdateByEventDerivesFromEntries(t *testing.T) {
	store := newMemoryStore()
	userID := uuid.New()
	eventID := uuid.New()
	driverID := uuid.New()

	identities := &fakeIdentities{identity: models.UserIdentity{
		UserID:         userID,
		DriverNameRaw:  "John Smith",
		NormalizedName: "john smith",
	}}
	entries := &fakeEntries{entries: map[uuid.UUID][]models.EventEntryRef{
		eventID: {
			{DriverID: uuid.New(), NormalizedName: "someone else"},
			{DriverID: driverID, NormalizedName: "john smith"},
		},
	}}
	svc := newTestService(store, identities, entries)

	link, err := svc.UpdateDriverLinkStatusByEvent(context.Background(), userID, eventID, StatusRejected)
	require.NoError(t, err)

	assert.Equal(t, driverID, link.DriverID)
	assert.Equal(t, matching.MatchTypeExact, link.MatchType)
	assert.Equal(t, 1.0, link.SimilarityScore)
	assert.Equal(t, StatusRejected, link.Status)
	require.NotNil(t, link.RejectedAt)
	assert.Empty(t, store.userLinks, "derivation must not create an aggregate")
}

func TestUpdateByEventNoMatchingEntry(t *testing.T) {
	userID := uuid.New()
	eventID := uuid.New()

	identities := &fakeIdentities{identity: models.UserIdentity{
		UserID:         userID,
		NormalizedName: "john smith",
	}}
	entries := &fakeEntries{entries: map[uuid.UUID][]models.EventEntryRef{
		eventID: {{DriverID: uuid.New(), NormalizedName: "someone else"}},
	}}
	svc := newTestService(newMemoryStore(), identities, entries)

	_, err := svc.UpdateDriverLinkStatusByEvent(context.Background(), userID, eventID, StatusConfirmed)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestBulkUpdatePartialSuccess(t *testing.T) {
	store := newMemoryStore()
	userID := uuid.New()
	driverID := uuid.New()

	linked1 := uuid.New()
	linked2 := uuid.New()
	unknown := uuid.New()
	seedEventLink(t, store, userID, linked1, driverID, 0.9, StatusSuggested, matching.MatchTypeFuzzy)
	seedEventLink(t, store, userID, linked2, driverID, 0.9, StatusSuggested, matching.MatchTypeFuzzy)

	identities := &fakeIdentities{identity: models.UserIdentity{UserID: userID, NormalizedName: "john smith"}}
	entries := &fakeEntries{entries: map[uuid.UUID][]models.EventEntryRef{}}
	svc := newTestService(store, identities, entries)

	result := svc.BulkUpdateByEvents(context.Background(), userID, []uuid.UUID{linked1, unknown, linked2}, StatusConfirmed)

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 3)

	byEvent := make(map[uuid.UUID]BulkItemResult)
	for _, r := range result.Results {
		byEvent[r.EventID] = r
	}
	assert.Equal(t, StatusConfirmed, byEvent[linked1].Status)
	assert.Equal(t, StatusConfirmed, byEvent[linked2].Status)
	assert.Equal(t, KindNotFound, byEvent[unknown].Kind)

	// Applied updates survive the failing sibling.
	assert.Equal(t, StatusConfirmed, store.eventLinks[pairKey(userID, linked1)].Status)
	assert.Equal(t, StatusConfirmed, store.eventLinks[pairKey(userID, linked2)].Status)
}

func TestRecordMatchOncePerEvent(t *testing.T) {
	store := newMemoryStore()
	producer := &capturingPublisher{}
	svc := NewService(store, matching.DefaultConfig(), nil, nil, producer, nil)

	user := models.UserIdentity{UserID: uuid.New(), NormalizedName: "john smith"}
	driver := models.DriverRecord{ID: uuid.New(), NormalizedName: "john smyth"}
	eventID := uuid.New()
	verdict := matching.Verdict{MatchType: matching.MatchTypeFuzzy, SimilarityScore: 0.9, Status: matching.VerdictSuggested}

	first, err := svc.RecordMatch(context.Background(), user, eventID, driver, verdict)
	require.NoError(t, err)
	assert.Equal(t, 1, producer.count())

	second, err := svc.RecordMatch(context.Background(), user, eventID, driver, verdict)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.eventLinks, 1)
	assert.Equal(t, 1, producer.count(), "a repeated discovery must not announce an update")
}

func TestRecordMatchAutoConfirmCreatesAggregate(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, nil, nil)

	user := models.UserIdentity{UserID: uuid.New(), NormalizedName: "john smith"}
	driver := models.DriverRecord{ID: uuid.New(), NormalizedName: "john smith"}
	verdict := matching.Verdict{MatchType: matching.MatchTypeExact, SimilarityScore: 1.0, Status: matching.VerdictConfirmed}

	link, err := svc.RecordMatch(context.Background(), user, uuid.New(), driver, verdict)
	require.NoError(t, err)

	agg := store.userLinks[pairKey(user.UserID, driver.ID)]
	require.NotNil(t, agg, "confirmed verdict should create the aggregate")
	assert.Equal(t, StatusConfirmed, agg.Status)
	assert.Equal(t, matching.DefaultConfig().MatcherID, agg.MatcherID)
	require.NotNil(t, link.UserDriverLinkID)
	assert.Equal(t, agg.ID, *link.UserDriverLinkID)
}

func TestRecordMatchSuggestedCreatesNoAggregate(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, nil, nil)

	user := models.UserIdentity{UserID: uuid.New(), NormalizedName: "michael"}
	driver := models.DriverRecord{ID: uuid.New(), NormalizedName: "michelle"}
	verdict := matching.Verdict{MatchType: matching.MatchTypeFuzzy, SimilarityScore: 0.92, Status: matching.VerdictSuggested}

	link, err := svc.RecordMatch(context.Background(), user, uuid.New(), driver, verdict)
	require.NoError(t, err)

	assert.Empty(t, store.userLinks)
	assert.Nil(t, link.UserDriverLinkID)
}

func TestTransponderCorroborationPromotes(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, nil, nil)

	user := models.UserIdentity{UserID: uuid.New(), NormalizedName: "john smith", TransponderNumber: "7781"}
	driver := models.DriverRecord{ID: uuid.New(), NormalizedName: "j smith", TransponderNumber: "7781"}
	verdict := matching.Verdict{MatchType: matching.MatchTypeTransponder, SimilarityScore: 1.0, Status: matching.VerdictSuggested}

	// First sighting: evidence only, no aggregate yet.
	_, err := svc.RecordMatch(context.Background(), user, uuid.New(), driver, verdict)
	require.NoError(t, err)
	assert.Empty(t, store.userLinks)

	// Second distinct event corroborates the transponder and promotes.
	link, err := svc.RecordMatch(context.Background(), user, uuid.New(), driver, verdict)
	require.NoError(t, err)

	agg := store.userLinks[pairKey(user.UserID, driver.ID)]
	require.NotNil(t, agg)
	assert.Equal(t, StatusConfirmed, agg.Status)
	require.NotNil(t, agg.ConfirmedAt)

	// Both event links now reference the aggregate.
	require.NotNil(t, link.UserDriverLinkID)
	for _, evt := range store.eventLinks {
		require.NotNil(t, evt.UserDriverLinkID)
		assert.Equal(t, agg.ID, *evt.UserDriverLinkID)
	}
}

func TestBulkUpdateConcurrencySafe(t *testing.T) {
	store := newMemoryStore()
	userID := uuid.New()
	driverID := uuid.New()

	eventIDs := make([]uuid.UUID, 24)
	for i := range eventIDs {
		eventIDs[i] = uuid.New()
		seedEventLink(t, store, userID, eventIDs[i], driverID, 0.9, StatusSuggested, matching.MatchTypeFuzzy)
	}

	svc := newTestService(store, nil, nil)
	result := svc.BulkUpdateByEvents(context.Background(), userID, eventIDs, StatusConfirmed)

	assert.Equal(t, len(eventIDs), result.Succeeded)
	assert.Zero(t, result.Failed)
	for _, id := range eventIDs {
		assert.Equal(t, StatusConfirmed, store.eventLinks[pairKey(userID, id)].Status, fmt.Sprintf("event %s", id))
	}
}
