package state

import (
	"errors"
	"fmt"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"nhbmarket/storage"
)

// Manager provides typed access to the market world state: payment token
// balances and allowances, item ownership, the category registry and a
// generic RLP key/value space for native modules. Every write is journaled so
// callers can snapshot and roll back.
type Manager struct {
	db      storage.Database
	journal []change
}

type change struct {
	key     []byte
	prev    []byte
	existed bool
}

// NewManager creates a state manager persisting into db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) read(hashed []byte) ([]byte, bool, error) {
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (m *Manager) remember(hashed []byte) error {
	prev, existed, err := m.read(hashed)
	if err != nil {
		return err
	}
	m.journal = append(m.journal, change{key: hashed, prev: prev, existed: existed})
	return nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	hashed := kvKey(key)
	if err := m.remember(hashed); err != nil {
		return err
	}
	return m.db.Put(hashed, encoded)
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, ok, err := m.read(kvKey(key))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) del(key []byte) error {
	hashed := kvKey(key)
	if err := m.remember(hashed); err != nil {
		return err
	}
	return m.db.Delete(hashed)
}

// Snapshot returns an identifier for the current journal position.
func (m *Manager) Snapshot() int { return len(m.journal) }

// RevertToSnapshot undoes every write made after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		c := m.journal[i]
		if c.existed {
			_ = m.db.Put(c.key, c.prev)
		} else {
			_ = m.db.Delete(c.key)
		}
	}
	m.journal = m.journal[:id]
}

// Commit releases a snapshot. Releasing the outermost snapshot makes every
// journaled write permanent and empties the journal.
func (m *Manager) Commit(id int) {
	if id == 0 {
		m.journal = m.journal[:0]
	}
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.put(append([]byte("kv/"), key...), value)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.get(append([]byte("kv/"), key...), out)
}

// KVDelete removes key from the generic key space.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.del(append([]byte("kv/"), key...))
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. Missing keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	ok, err := m.KVGet(key, out)
	if err != nil || ok {
		return err
	}
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	return nil
}
