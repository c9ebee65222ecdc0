package decision

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	wealthSchemaVersion = "1"
	bucketWealth        = "wealth"
	bucketMeta          = "meta"
)

// WealthRecord is the persisted alpha-investing state for one (user,host)
// key (spec §4.4 "Alpha-investing state persists across runs").
type WealthRecord struct {
	Key       string    `json:"key"`
	Wealth    float64   `json:"wealth"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WealthStore is a bbolt-backed store for alpha-investing wealth,
// adapted from the teacher's single-writer ACID durability discipline.
type WealthStore struct {
	db *bolt.DB
}

// OpenWealthStore opens (or creates) the wealth database at path.
func OpenWealthStore(path string) (*WealthStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("decision.OpenWealthStore(%q): %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketWealth, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			return meta.Put([]byte("schema_version"), []byte(wealthSchemaVersion))
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("decision.OpenWealthStore: init: %w", err)
	}

	return &WealthStore{db: db}, nil
}

func (s *WealthStore) Close() error {
	return s.db.Close()
}

// Get returns the wealth for key, or initialWealth if no record exists
// yet (spec §4.4 default starting wealth is configured alongside alpha).
func (s *WealthStore) Get(key string, initialWealth float64) (float64, error) {
	var rec WealthRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketWealth))
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return 0, fmt.Errorf("decision.WealthStore.Get(%q): %w", key, err)
	}
	if !found {
		return initialWealth, nil
	}
	return rec.Wealth, nil
}

// Put persists the wealth for key.
func (s *WealthStore) Put(key string, wealth float64) error {
	rec := WealthRecord{Key: key, Wealth: wealth, UpdatedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("decision.WealthStore.Put marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketWealth)).Put([]byte(key), data)
	})
}

// Update applies one run's worth of alpha-investing bookkeeping: each
// BH-admitted candidate spends alpha and earns back phi*alpha (spec
// §4.4). Returns the new wealth. When wealth is already <= 0, no further
// destructive rejections may be admitted this run; the caller enforces
// that by checking wealth before calling ApplyBHGate.
func (s *WealthStore) Update(key string, currentWealth float64, admittedCount int, alpha, phi float64) (float64, error) {
	wealth := currentWealth
	for i := 0; i < admittedCount; i++ {
		wealth -= alpha
		wealth += phi * alpha
	}
	if err := s.Put(key, wealth); err != nil {
		return wealth, err
	}
	return wealth, nil
}
