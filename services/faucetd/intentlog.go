package faucetd

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// IntentState is the lifecycle position of a journalled disbursement.
type IntentState string

const (
	IntentReserved    IntentState = "reserved"
	IntentSeeded      IntentState = "seeded"
	IntentSubmitted   IntentState = "submitted"
	IntentUnconfirmed IntentState = "unconfirmed"
	IntentConfirmed   IntentState = "confirmed"
	IntentFailed      IntentState = "failed"
	IntentResolved    IntentState = "resolved"
)

// Unresolved reports whether the intent stopped before a final state. An
// unconfirmed group may still land, so it stays open until an operator
// resolves it.
func (s IntentState) Unresolved() bool {
	switch s {
	case IntentReserved, IntentSeeded, IntentSubmitted, IntentUnconfirmed:
		return true
	}
	return false
}

var (
	bucketIntents = []byte("intents")

	// ErrIntentNotFound is returned when an intent id is unknown.
	ErrIntentNotFound = errors.New("intent not found")
)

// Intent is one disbursement attempt.
type Intent struct {
	ID        string      `json:"id"`
	Target    string      `json:"target"`
	State     IntentState `json:"state"`
	SeedTxID  string      `json:"seedTxId,omitempty"`
	TxIDs     []string    `json:"txIds,omitempty"`
	ErrorKind Kind        `json:"errorKind,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// IntentLog journals disbursement attempts so a crash mid-flight leaves a
// record an operator can reconcile.
type IntentLog interface {
	Begin(target string) (Intent, error)
	Update(id string, fn func(*Intent)) (Intent, error)
	List() ([]Intent, error)
	Unresolved() ([]Intent, error)
	Close() error
}

// BoltIntentLog persists intents in a bbolt file.
type BoltIntentLog struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBoltIntentLog opens (and migrates) the journal at path.
func OpenBoltIntentLog(path string) (*BoltIntentLog, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open intent log: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIntents)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init intent log: %w", err)
	}
	return &BoltIntentLog{db: db, now: time.Now}, nil
}

func (l *BoltIntentLog) Begin(target string) (Intent, error) {
	now := l.now().UTC()
	intent := Intent{
		ID:        uuid.NewString(),
		Target:    target,
		State:     IntentReserved,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := l.db.Update(func(tx *bolt.Tx) error {
		return putIntent(tx.Bucket(bucketIntents), intent)
	})
	if err != nil {
		return Intent{}, err
	}
	return intent, nil
}

func (l *BoltIntentLog) Update(id string, fn func(*Intent)) (Intent, error) {
	var result Intent
	err := l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIntents)
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return ErrIntentNotFound
		}
		var intent Intent
		if err := json.Unmarshal(raw, &intent); err != nil {
			return err
		}
		fn(&intent)
		intent.UpdatedAt = l.now().UTC()
		result = intent
		return putIntent(bucket, intent)
	})
	return result, err
}

func (l *BoltIntentLog) List() ([]Intent, error) {
	var out []Intent
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIntents).ForEach(func(_, raw []byte) error {
			var intent Intent
			if err := json.Unmarshal(raw, &intent); err != nil {
				return err
			}
			out = append(out, intent)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortIntents(out)
	return out, nil
}

func (l *BoltIntentLog) Unresolved() ([]Intent, error) {
	all, err := l.List()
	if err != nil {
		return nil, err
	}
	return filterUnresolved(all), nil
}

func (l *BoltIntentLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func putIntent(bucket *bolt.Bucket, intent Intent) error {
	raw, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(intent.ID), raw)
}

// MemoryIntentLog keeps in-flight intents in process. It is used when no
// journal path is configured; intents are dropped once they reach a final
// state.
type MemoryIntentLog struct {
	mu      sync.Mutex
	intents map[string]Intent
	now     func() time.Time
}

func NewMemoryIntentLog() *MemoryIntentLog {
	return &MemoryIntentLog{intents: make(map[string]Intent), now: time.Now}
}

func (l *MemoryIntentLog) Begin(target string) (Intent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	intent := Intent{ID: uuid.NewString(), Target: target, State: IntentReserved, CreatedAt: now, UpdatedAt: now}
	l.intents[intent.ID] = intent
	return intent, nil
}

func (l *MemoryIntentLog) Update(id string, fn func(*Intent)) (Intent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	intent, ok := l.intents[id]
	if !ok {
		return Intent{}, ErrIntentNotFound
	}
	fn(&intent)
	intent.TxIDs = append([]string(nil), intent.TxIDs...)
	intent.UpdatedAt = l.now().UTC()
	if intent.State.Unresolved() {
		l.intents[id] = intent
	} else {
		delete(l.intents, id)
	}
	return intent, nil
}

func (l *MemoryIntentLog) List() ([]Intent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Intent, 0, len(l.intents))
	for _, intent := range l.intents {
		out = append(out, intent)
	}
	sortIntents(out)
	return out, nil
}

func (l *MemoryIntentLog) Unresolved() ([]Intent, error) {
	all, _ := l.List()
	return filterUnresolved(all), nil
}

func (l *MemoryIntentLog) Close() error { return nil }

func sortIntents(intents []Intent) {
	sort.Slice(intents, func(i, j int) bool {
		if intents[i].CreatedAt.Equal(intents[j].CreatedAt) {
			return intents[i].ID < intents[j].ID
		}
		return intents[i].CreatedAt.Before(intents[j].CreatedAt)
	})
}

func filterUnresolved(all []Intent) []Intent {
	var out []Intent
	for _, intent := range all {
		if intent.State.Unresolved() {
			out = append(out, intent)
		}
	}
	return out
}
