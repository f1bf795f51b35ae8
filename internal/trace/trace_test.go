package trace

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLite_RecordAndFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace")
	rec, err := NewSQLite(path)
	require.NoError(t, err)
	assert.Equal(t, path+".sqlite3", rec.Path())

	rec.SetBatchSize(2)
	rec.Record(Event{RequestID: "a", Kind: "GET_INFO", From: 1, Key: 0, Block: 3, Source: 2, Mode: "READ_WRITE", Outbound: 2})
	assert.Equal(t, 0, rec.Written(), "first event stays buffered")
	rec.Record(Event{RequestID: "b", Kind: "SET_INFO", From: 2, Key: 0, Block: 3, Source: -1})
	assert.Equal(t, 2, rec.Written(), "a full batch is flushed")

	rec.Record(Event{RequestID: "c", Kind: "LOCK", From: 1, Source: -1})
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	db, err := sql.Open("sqlite3", rec.Path())
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM protocol_events").Scan(&count))
	assert.Equal(t, 3, count)

	var kind string
	var source int
	require.NoError(t, db.QueryRow("SELECT kind, source FROM protocol_events WHERE request_id = 'a'").Scan(&kind, &source))
	assert.Equal(t, "GET_INFO", kind)
	assert.Equal(t, 2, source)
}

func TestSQLite_RefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taken.sqlite3")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := NewSQLite(path)
	assert.Error(t, err)
}

func TestSQLite_DefaultName(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer os.Chdir(wd)

	rec, err := NewSQLite("")
	require.NoError(t, err)
	defer rec.Close()
	assert.Regexp(t, `^dsm_trace_[0-9a-v]{20}\.sqlite3$`, rec.Path())
}

func TestNop(t *testing.T) {
	var rec Recorder = Nop{}
	rec.Record(Event{})
	assert.NoError(t, rec.Flush())
	assert.NoError(t, rec.Close())
}
