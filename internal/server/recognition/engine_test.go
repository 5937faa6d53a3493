package recognition

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelink/devicelink/internal/models"
	"github.com/devicelink/devicelink/internal/server/storage"
)

// fakeDeviceStore is an in-memory DeviceStorage for engine tests.
type fakeDeviceStore struct {
	records []*models.DeviceRecord
	states  map[string][]string
	failAll bool
}

func (f *fakeDeviceStore) Get(ctx context.Context, deviceID string) (*models.DeviceRecord, error) {
	if f.failAll {
		return nil, errors.New("store unavailable")
	}
	for _, r := range f.records {
		if r.DeviceID == deviceID {
			return r, nil
		}
	}
	return nil, storage.ErrDeviceNotFound
}

func (f *fakeDeviceStore) Put(ctx context.Context, record *models.DeviceRecord) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeDeviceStore) Scan(ctx context.Context, pred storage.DevicePredicate) ([]*models.DeviceRecord, error) {
	if f.failAll {
		return nil, errors.New("store unavailable")
	}
	var out []*models.DeviceRecord
	for _, r := range f.records {
		if pred == nil || pred(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeDeviceStore) AppendSyncState(ctx context.Context, deviceID, status string) error {
	if f.states == nil {
		f.states = make(map[string][]string)
	}
	f.states[deviceID] = append(f.states[deviceID], status)
	return nil
}

func (f *fakeDeviceStore) SyncStates(ctx context.Context, deviceID string) ([]models.SyncState, error) {
	var out []models.SyncState
	for _, status := range f.states[deviceID] {
		out = append(out, models.SyncState{Status: status})
	}
	return out, nil
}

func testEngine(store *fakeDeviceStore) *Engine {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewEngine(store, logger)
}

func deviceID(seed string) string {
	return strings.Repeat(seed, 64/len(seed))
}

func linkedRecord(id, guid, handle, phone string, verifiedAgo time.Duration) *models.DeviceRecord {
	verified := time.Now().Add(-verifiedAgo)
	return &models.DeviceRecord{
		InternalID:     "int-" + id[:8],
		DeviceID:       id,
		UserGUID:       guid,
		UserHandle:     handle,
		UserPhone:      phone,
		CreatedAt:      verified,
		LastVerifiedAt: &verified,
	}
}

func TestRecognize_UnknownDeviceIsUnregistered(t *testing.T) {
	engine := testEngine(&fakeDeviceStore{})

	result, err := engine.Recognize(context.Background(), deviceID("aa"), Hints{}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnregistered, result.Outcome)
	assert.Nil(t, result.Record)
}

func TestRecognize_FirstContactCreatesEmptyRecord(t *testing.T) {
	id := deviceID("a1")
	store := &fakeDeviceStore{}
	engine := testEngine(store)

	result, err := engine.Recognize(context.Background(), id, Hints{}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnregistered, result.Outcome)

	// The empty record exists now, with its audit log opened.
	record, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, record.Linked())
	assert.Nil(t, record.LastVerifiedAt)
	assert.Equal(t, []string{models.SyncStateInitialized}, store.states[id])
}

func TestRecognize_FirstContactInRegistrationFlow(t *testing.T) {
	id := deviceID("a2")
	store := &fakeDeviceStore{}
	engine := testEngine(store)

	_, err := engine.Recognize(context.Background(), id, Hints{}, true)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{models.SyncStateInitialized, models.SyncStatePendingRegistration},
		store.states[id])
}

func TestRecognize_RepeatContactCreatesNothing(t *testing.T) {
	id := deviceID("a3")
	store := &fakeDeviceStore{}
	engine := testEngine(store)

	for i := 0; i < 3; i++ {
		_, err := engine.Recognize(context.Background(), id, Hints{}, false)
		require.NoError(t, err)
	}

	assert.Len(t, store.records, 1)
	assert.Equal(t, []string{models.SyncStateInitialized}, store.states[id])
}

func TestRecognize_ExactMatchFresh(t *testing.T) {
	id := deviceID("ab")
	store := &fakeDeviceStore{records: []*models.DeviceRecord{
		linkedRecord(id, "guid-1", "@alice", "+447700900123", time.Hour),
	}}
	engine := testEngine(store)

	result, err := engine.Recognize(context.Background(), id, Hints{}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, result.Outcome)
	assert.Equal(t, "guid-1", result.GUID)
	assert.Equal(t, "@alice", result.Handle)
	assert.False(t, result.CrossBrowser)
}

func TestRecognize_ExactMatchStale(t *testing.T) {
	id := deviceID("ac")
	store := &fakeDeviceStore{records: []*models.DeviceRecord{
		linkedRecord(id, "guid-1", "@alice", "+447700900123", 31*24*time.Hour),
	}}
	engine := testEngine(store)

	result, err := engine.Recognize(context.Background(), id, Hints{}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsVerification, result.Outcome)
	assert.Equal(t, "@alice", result.Handle)
	assert.Equal(t, "+*********123", result.MaskedPhone)
	assert.Empty(t, result.GUID, "stale match must not leak the guid")
}

func TestRecognize_FreshnessBoundary(t *testing.T) {
	id := deviceID("ad")
	store := &fakeDeviceStore{records: []*models.DeviceRecord{
		linkedRecord(id, "guid-1", "@alice", "+447700900123", 29*24*time.Hour),
	}}
	engine := testEngine(store)

	result, err := engine.Recognize(context.Background(), id, Hints{}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, result.Outcome)
}

func TestRecognize_UnlinkedExactRecordFallsThrough(t *testing.T) {
	id := deviceID("ae")
	store := &fakeDeviceStore{records: []*models.DeviceRecord{
		{DeviceID: id, InternalID: "int-1", CreatedAt: time.Now()},
	}}
	engine := testEngine(store)

	result, err := engine.Recognize(context.Background(), id, Hints{}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnregistered, result.Outcome)
}

func TestRecognize_CrossIdentityMatch(t *testing.T) {
	known := deviceID("af")
	store := &fakeDeviceStore{records: []*models.DeviceRecord{
		linkedRecord(known, "guid-1", "@alice", "+447700900123", time.Hour),
	}}
	engine := testEngine(store)

	// A new device with a handle hint resolves to alice's record.
	result, err := engine.Recognize(context.Background(), deviceID("ba"), Hints{UserHandle: "@alice"}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, result.Outcome)
	assert.True(t, result.CrossBrowser)
	assert.Equal(t, "guid-1", result.GUID)
}

func TestRecognize_CrossIdentityRequiresHints(t *testing.T) {
	known := deviceID("ca")
	store := &fakeDeviceStore{records: []*models.DeviceRecord{
		linkedRecord(known, "guid-1", "@alice", "+447700900123", time.Hour),
	}}
	engine := testEngine(store)

	// No hints: a brand-new device never attaches to an account.
	result, err := engine.Recognize(context.Background(), deviceID("cb"), Hints{}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnregistered, result.Outcome)
}

func TestRecognize_CrossIdentityPriorityOrder(t *testing.T) {
	store := &fakeDeviceStore{records: []*models.DeviceRecord{
		linkedRecord(deviceID("da"), "guid-1", "@alice", "+447700900123", time.Hour),
		linkedRecord(deviceID("db"), "guid-2", "@bob", "+447700900999", time.Hour),
	}}
	engine := testEngine(store)

	// GUID hint outranks a conflicting handle hint.
	result, err := engine.Recognize(context.Background(), deviceID("dc"),
		Hints{UserGUID: "guid-2", UserHandle: "@alice"}, false)
	require.NoError(t, err)
	assert.Equal(t, "guid-2", result.GUID)
}

func TestRecognize_CrossIdentityPicksMostRecentlyVerified(t *testing.T) {
	store := &fakeDeviceStore{records: []*models.DeviceRecord{
		linkedRecord(deviceID("ea"), "guid-1", "@alice", "+447700900123", 10*24*time.Hour),
		linkedRecord(deviceID("eb"), "guid-1", "@alice", "+447700900123", time.Hour),
	}}
	engine := testEngine(store)

	result, err := engine.Recognize(context.Background(), deviceID("ec"), Hints{UserGUID: "guid-1"}, false)
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	assert.Equal(t, deviceID("eb"), result.Record.DeviceID)
}

func TestRecognize_RegistrationFlowForcesVerification(t *testing.T) {
	id := deviceID("fa")
	store := &fakeDeviceStore{records: []*models.DeviceRecord{
		linkedRecord(id, "guid-1", "@alice", "+447700900123", time.Minute),
	}}
	engine := testEngine(store)

	// Freshly verified exact match still needs verification in
	// registration flow.
	result, err := engine.Recognize(context.Background(), id, Hints{}, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsVerification, result.Outcome)

	// Same for a cross match.
	result, err = engine.Recognize(context.Background(), deviceID("fb"), Hints{UserHandle: "@alice"}, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsVerification, result.Outcome)
	assert.True(t, result.CrossBrowser)
}

func TestRecognize_MalformedDeviceIDDegrades(t *testing.T) {
	store := &fakeDeviceStore{records: []*models.DeviceRecord{
		linkedRecord(deviceID("1a"), "guid-1", "@alice", "+447700900123", time.Hour),
	}}
	engine := testEngine(store)

	// Malformed token is not an error; hints still resolve.
	result, err := engine.Recognize(context.Background(), "not-hex", Hints{UserPhone: "+447700900123"}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, result.Outcome)
	assert.True(t, result.CrossBrowser)

	// Malformed token and no hints is just unregistered.
	result, err = engine.Recognize(context.Background(), "", Hints{}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnregistered, result.Outcome)
}

func TestRecognize_StoreFailureIsFatal(t *testing.T) {
	engine := testEngine(&fakeDeviceStore{failAll: true})

	_, err := engine.Recognize(context.Background(), deviceID("2b"), Hints{}, false)
	assert.Error(t, err)
}
