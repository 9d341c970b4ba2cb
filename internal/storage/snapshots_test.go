package storage

import (
	"path/filepath"
	"testing"
	"time"

	"bilregistret/internal/cache"
	"bilregistret/internal/logging"
	"bilregistret/internal/records"
)

func openTestStore(t *testing.T) *SnapshotStore {
	t.Helper()
	logger := logging.NewLogger(logging.Config{Level: logging.ErrorLevel})
	store, err := OpenSnapshotStore(filepath.Join(t.TempDir(), "nested", "cache.db"), logger)
	if err != nil {
		t.Fatalf("OpenSnapshotStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecord(t *testing.T) records.SourceRecord {
	t.Helper()
	rec, err := records.DecodeSourceRecord([]byte(`{
		"car": [{"title":"Fordon","data":{"Modell":"V70","Märke":"Volvo","Ägare":["Anna","Bo"]}}],
		"imageInfo": {"Car Image":"https://cdn.example.se/v70.jpg"}
	}`))
	if err != nil {
		t.Fatalf("DecodeSourceRecord: %v", err)
	}
	return rec
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := openTestStore(t)
	rec := sampleRecord(t)
	now := time.Now()

	entry := &cache.Entry{
		Key:        cache.VehicleDataKey("ABC123", "cl"),
		Scope:      "ABC123",
		Category:   cache.CategoryVehicleData,
		Value:      rec,
		InsertedAt: now,
	}
	if err := store.Save(entry, now.Add(10*time.Minute)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(entry.Key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("Load returned nil for a saved key")
	}
	if loaded.Scope != "ABC123" || loaded.Category != cache.CategoryVehicleData {
		t.Errorf("loaded entry = %+v", loaded)
	}
	if loaded.InsertedAt.UnixMilli() != now.UnixMilli() {
		t.Errorf("InsertedAt = %v, want %v", loaded.InsertedAt, now)
	}

	got, ok := loaded.Value.(records.SourceRecord)
	if !ok {
		t.Fatalf("Value type = %T", loaded.Value)
	}
	if !got.Car.Equal(rec.Car) {
		t.Error("car tree changed across persistence (field order must survive)")
	}
	if url, _ := got.ImageInfo["Car Image"].StringValue(); url != "https://cdn.example.se/v70.jpg" {
		t.Errorf("image = %q", url)
	}
}

func TestSnapshotMissAndExpiry(t *testing.T) {
	store := openTestStore(t)

	if e, err := store.Load("vehicle-data:NONE:cl"); err != nil || e != nil {
		t.Errorf("Load(missing) = %v, %v", e, err)
	}

	now := time.Now()
	entry := &cache.Entry{Key: "vehicle-data:OLD:ts", Scope: "OLD", Category: cache.CategoryVehicleData, Value: sampleRecord(t), InsertedAt: now.Add(-time.Hour)}
	if err := store.Save(entry, now.Add(-time.Minute)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if e, err := store.Load(entry.Key); err != nil || e != nil {
		t.Errorf("expired row should not load, got %v, %v", e, err)
	}
	if n, _ := store.Count(); n != 0 {
		t.Errorf("expired row should be dropped on load, count = %d", n)
	}
}

func TestSnapshotRejectsForeignValues(t *testing.T) {
	store := openTestStore(t)
	err := store.Save(&cache.Entry{Key: "other:x", Category: cache.CategoryOther, Value: 42}, time.Now().Add(time.Minute))
	if err == nil {
		t.Error("Save should reject values that are not source records")
	}
}

func TestSnapshotInvalidation(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	rec := sampleRecord(t)

	for _, e := range []*cache.Entry{
		{Key: "vehicle-data:A:cl", Scope: "A", Category: cache.CategoryVehicleData, Value: rec, InsertedAt: now},
		{Key: "vehicle-data:A:ts", Scope: "A", Category: cache.CategoryVehicleData, Value: rec, InsertedAt: now},
		{Key: "garage:A", Scope: "A", Category: cache.CategoryGarage, Value: rec, InsertedAt: now},
	} {
		if err := store.Save(e, now.Add(time.Hour)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	if err := store.Delete("vehicle-data:A:cl"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := store.Count(); n != 2 {
		t.Errorf("count after Delete = %d, want 2", n)
	}

	if err := store.DeleteCategory(cache.CategoryVehicleData); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	if n, _ := store.Count(); n != 1 {
		t.Errorf("count after DeleteCategory = %d, want 1", n)
	}

	if err := store.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n, _ := store.Count(); n != 0 {
		t.Errorf("count after Purge = %d, want 0", n)
	}
}

func TestSnapshotDeleteExpired(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	rec := sampleRecord(t)

	_ = store.Save(&cache.Entry{Key: "vehicle-data:A:cl", Category: cache.CategoryVehicleData, Value: rec, InsertedAt: now}, now.Add(-time.Second))
	_ = store.Save(&cache.Entry{Key: "vehicle-data:B:cl", Category: cache.CategoryVehicleData, Value: rec, InsertedAt: now}, now.Add(time.Hour))

	n, err := store.DeleteExpired(now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired = %d, want 1", n)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	logger := logging.NewNopLogger()

	store, err := OpenSnapshotStore(path, logger)
	if err != nil {
		t.Fatalf("OpenSnapshotStore: %v", err)
	}
	now := time.Now()
	if err := store.Save(&cache.Entry{Key: "vehicle-data:A:ts", Category: cache.CategoryVehicleData, Value: sampleRecord(t), InsertedAt: now}, now.Add(time.Hour)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = store.Close()

	reopened, err := OpenSnapshotStore(path, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if e, err := reopened.Load("vehicle-data:A:ts"); err != nil || e == nil {
		t.Errorf("Load after reopen = %v, %v", e, err)
	}
}

func TestCoordinatorWithSnapshotStore(t *testing.T) {
	store := openTestStore(t)
	coord, err := cache.New(cache.DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	coord.SetPersister(store)

	key := cache.VehicleDataKey("ABC123", "ts")
	coord.Set(key, "ABC123", cache.CategoryVehicleData, sampleRecord(t))

	fresh, err := cache.New(cache.DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	fresh.SetPersister(store)
	v, ok := fresh.Get(key, cache.CategoryVehicleData)
	if !ok {
		t.Fatal("a new coordinator should hydrate from the warm tier")
	}
	if _, isRecord := v.(records.SourceRecord); !isRecord {
		t.Errorf("hydrated value type = %T", v)
	}
}
