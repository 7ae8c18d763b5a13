package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	_, err := db.Get([]byte("missing"))
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.Put([]byte("sale"), []byte{0x01, 0x02}))
	got, err := db.Get([]byte("sale"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, got)

	require.NoError(t, db.Delete([]byte("sale")))
	_, err = db.Get([]byte("sale"))
	require.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, db.Delete([]byte("sale")))
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte{0xAA}
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 0xBB
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA}, got)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}
