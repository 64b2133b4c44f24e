package sentry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
	"go.uber.org/zap"
)

// zap-backed runtime.Logger for tests
type testLogger struct {
	log *zap.SugaredLogger
}

func newTestLogger(t *testing.T) *testLogger {
	logger, _ := zap.NewDevelopment()
	t.Cleanup(func() { _ = logger.Sync() })
	return &testLogger{log: logger.Sugar()}
}

func (l *testLogger) Debug(format string, v ...interface{})                   { l.log.Debugf(format, v...) }
func (l *testLogger) Info(format string, v ...interface{})                    { l.log.Infof(format, v...) }
func (l *testLogger) Warn(format string, v ...interface{})                    { l.log.Warnf(format, v...) }
func (l *testLogger) Error(format string, v ...interface{})                   { l.log.Errorf(format, v...) }
func (l *testLogger) WithField(key string, value interface{}) runtime.Logger  { return l }
func (l *testLogger) WithFields(fields map[string]interface{}) runtime.Logger { return l }
func (l *testLogger) Fields() map[string]interface{}                          { return map[string]interface{}{} }

// fakeNakama is a map-backed storage double. Methods the audit system
// never calls fall through to the embedded nil interface and panic,
// which is the failure we want in tests.
type fakeNakama struct {
	runtime.NakamaModule

	mu      sync.Mutex
	storage map[string]map[string]*api.StorageObject
	files   map[string]string
	version int
}

func newFakeNakama() *fakeNakama {
	return &fakeNakama{
		storage: make(map[string]map[string]*api.StorageObject),
		files:   make(map[string]string),
	}
}

func (f *fakeNakama) StorageRead(ctx context.Context, reads []*runtime.StorageRead) ([]*api.StorageObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	objects := make([]*api.StorageObject, 0, len(reads))
	for _, r := range reads {
		user, found := f.storage[r.UserID]
		if !found {
			continue
		}
		if o, found := user[r.Collection+"/"+r.Key]; found {
			objects = append(objects, o)
		}
	}
	return objects, nil
}

func (f *fakeNakama) StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	acks := make([]*api.StorageObjectAck, 0, len(writes))
	for _, w := range writes {
		user, found := f.storage[w.UserID]
		if !found {
			user = make(map[string]*api.StorageObject)
			f.storage[w.UserID] = user
		}
		f.version++
		o := &api.StorageObject{
			Collection: w.Collection,
			Key:        w.Key,
			UserId:     w.UserID,
			Value:      w.Value,
			Version:    fmt.Sprintf("v%d", f.version),
		}
		user[w.Collection+"/"+w.Key] = o
		acks = append(acks, &api.StorageObjectAck{
			Collection: o.Collection,
			Key:        o.Key,
			UserId:     o.UserId,
			Version:    o.Version,
		})
	}
	return acks, nil
}

func (f *fakeNakama) StorageDelete(ctx context.Context, deletes []*runtime.StorageDelete) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, d := range deletes {
		if user, found := f.storage[d.UserID]; found {
			delete(user, d.Collection+"/"+d.Key)
		}
	}
	return nil
}

func (f *fakeNakama) ReadFile(path string) (*os.File, error) {
	f.mu.Lock()
	content, found := f.files[path]
	f.mu.Unlock()
	if !found {
		return nil, os.ErrNotExist
	}

	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("sentry_test_%d_%s", os.Getpid(), filepath.Base(path)))
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		return nil, err
	}
	return os.Open(tmp)
}

func (f *fakeNakama) storedValue(userID, collection, key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, found := f.storage[userID]
	if !found {
		return "", false
	}
	o, found := user[collection+"/"+key]
	if !found {
		return "", false
	}
	return o.Value, true
}

// memoryInventory is an in-process InventoryView for ledger tests.
type memoryInventory struct {
	mu    sync.Mutex
	items map[ItemVariant]int64
}

func newMemoryInventory(items map[ItemVariant]int64) *memoryInventory {
	if items == nil {
		items = make(map[ItemVariant]int64)
	}
	return &memoryInventory{items: items}
}

func (m *memoryInventory) Remove(ctx context.Context, nk runtime.NakamaModule, userID string, item ItemVariant, qty int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.items[item]
	removed := min64(held, qty)
	m.items[item] = held - removed
	return removed, nil
}

// captureReporter collects violations for assertions.
type captureReporter struct {
	mu         sync.Mutex
	violations []*Violation
}

func (r *captureReporter) ReportViolation(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string, violation *Violation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, violation)
}

func (r *captureReporter) all() []*Violation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Violation, len(r.violations))
	copy(out, r.violations)
	return out
}
