// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func openTestPool(t *testing.T, onConnect func(*sqlite.Conn) error) *Pool {
	t.Helper()
	pool, err := Open(Config{
		Path:      filepath.Join(t.TempDir(), "test.db"),
		PoolSize:  2,
		OnConnect: onConnect,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open with empty Path should fail")
	}
}

func TestTakePutRoundTrip(t *testing.T) {
	pool := openTestPool(t, nil)

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	defer pool.Put(conn)

	var one int
	err = sqlitex.Execute(conn, "SELECT 1", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			one = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if one != 1 {
		t.Errorf("SELECT 1 returned %d", one)
	}
}

func TestOnConnectCreatesSchema(t *testing.T) {
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn,
			"CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT);", nil)
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	defer pool.Put(conn)

	err = sqlitex.Execute(conn, "INSERT INTO kv (k, v) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{"key", "value"},
	})
	if err != nil {
		t.Fatalf("insert into OnConnect-created table failed: %v", err)
	}
}

func TestWALModeApplied(t *testing.T) {
	pool := openTestPool(t, nil)

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	defer pool.Put(conn)

	var mode string
	err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			mode = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("pragma query failed: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}
