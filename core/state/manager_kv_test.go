package state

import (
	"math/big"
	"testing"

	"nhbmarket/storage"
)

type kvRecord struct {
	Name  string
	Count uint64
	Total *big.Int
}

func TestKVReadWrite(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	record := kvRecord{Name: "alpha", Count: 3, Total: big.NewInt(1_000)}
	if err := mgr.KVPut([]byte("records/alpha"), &record); err != nil {
		t.Fatalf("put record: %v", err)
	}

	var fetched kvRecord
	ok, err := mgr.KVGet([]byte("records/alpha"), &fetched)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if fetched.Name != "alpha" || fetched.Count != 3 || fetched.Total.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected record: %+v", fetched)
	}

	ok, err = mgr.KVGet([]byte("records/missing"), &fetched)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatalf("missing key reported as present")
	}

	if err := mgr.KVDelete([]byte("records/alpha")); err != nil {
		t.Fatalf("delete record: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("records/alpha"), nil); ok {
		t.Fatalf("deleted record still present")
	}
}

func TestKVRejectsEmptyKey(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	if err := mgr.KVPut(nil, uint64(1)); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
	if _, err := mgr.KVGet([]byte{}, nil); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
	if err := mgr.KVDelete(nil); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestKVGetListDefaultsToEmpty(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	var list []uint64
	if err := mgr.KVGetList([]byte("list/missing"), &list); err != nil {
		t.Fatalf("get missing list: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty non-nil list, got %v", list)
	}

	if err := mgr.KVPut([]byte("list/present"), []uint64{4, 5, 6}); err != nil {
		t.Fatalf("put list: %v", err)
	}
	if err := mgr.KVGetList([]byte("list/present"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 3 || list[2] != 6 {
		t.Fatalf("unexpected list: %v", list)
	}

	var notSlice uint64
	if err := mgr.KVGetList([]byte("list/other"), &notSlice); err == nil {
		t.Fatalf("expected non-slice destination to be rejected")
	}
}

func TestKVKeysAreNamespaced(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	if err := mgr.KVPut([]byte("token/balance/x"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, err := mgr.get([]byte("token/balance/x"), nil); err != nil || ok {
		t.Fatalf("kv writes must not alias typed state, ok=%v err=%v", ok, err)
	}
	if db.Len() != 1 {
		t.Fatalf("expected one stored entry, got %d", db.Len())
	}
}
