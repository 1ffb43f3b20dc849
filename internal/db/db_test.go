package db

import (
	"os"
	"testing"
)

func TestRebind(t *testing.T) {
	q := `UPDATE tasks SET title=?, status='OPEN?' WHERE id=? AND version=?`
	if got := Rebind(DriverSQLite, q); got != q {
		t.Fatalf("sqlite must keep placeholders: %s", got)
	}
	want := `UPDATE tasks SET title=$1, status='OPEN?' WHERE id=$2 AND version=$3`
	if got := Rebind("postgresql", q); got != want {
		t.Fatalf("got %s", got)
	}
}

func TestOpenSQLiteWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := os.Stat(Path(dir)); err != nil {
		t.Fatalf("db file not created: %v", err)
	}
	var fk int
	if err := conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil || fk != 1 {
		t.Fatalf("foreign keys off: %d %v", fk, err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Open(Config{Driver: "postgres"}); err == nil {
		t.Fatalf("postgres without dsn should fail")
	}
}
