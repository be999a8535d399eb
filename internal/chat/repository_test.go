package chat

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

// scriptConnector is a minimal database/sql driver that records every
// prepared statement and fails those containing failSubstr. Just enough to
// observe statement order without a live database.
type scriptConnector struct {
	rec *scriptRecorder
}

type scriptRecorder struct {
	mu         sync.Mutex
	statements []string
	failSubstr string
}

func (r *scriptRecorder) record(q string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = append(r.statements, q)
	if r.failSubstr != "" && strings.Contains(q, r.failSubstr) {
		return errors.New("scripted failure")
	}
	return nil
}

func (r *scriptRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statements...)
}

func (c scriptConnector) Connect(context.Context) (driver.Conn, error) {
	return scriptConn{rec: c.rec}, nil
}
func (c scriptConnector) Driver() driver.Driver { return scriptDriver{rec: c.rec} }

type scriptDriver struct{ rec *scriptRecorder }

func (d scriptDriver) Open(string) (driver.Conn, error) { return scriptConn{rec: d.rec}, nil }

type scriptConn struct{ rec *scriptRecorder }

func (c scriptConn) Prepare(query string) (driver.Stmt, error) {
	if err := c.rec.record(query); err != nil {
		return nil, err
	}
	return scriptStmt{}, nil
}
func (c scriptConn) Close() error { return nil }
func (c scriptConn) Begin() (driver.Tx, error) {
	if err := c.rec.record("BEGIN"); err != nil {
		return nil, err
	}
	return scriptTx{}, nil
}

type scriptStmt struct{}

func (scriptStmt) Close() error  { return nil }
func (scriptStmt) NumInput() int { return -1 }
func (scriptStmt) Exec([]driver.Value) (driver.Result, error) {
	return driver.RowsAffected(1), nil
}
func (scriptStmt) Query([]driver.Value) (driver.Rows, error) { return emptyRows{}, nil }

type emptyRows struct{}

func (emptyRows) Columns() []string         { return nil }
func (emptyRows) Close() error              { return nil }
func (emptyRows) Next([]driver.Value) error { return io.EOF }

type scriptTx struct{}

func (scriptTx) Commit() error   { return nil }
func (scriptTx) Rollback() error { return nil }

// A failed sender lookup has to abort the send before anything is written:
// erroring after the insert would tell the sender the send failed while the
// message sits in history.
func TestCreateMessageResolvesSenderBeforeInsert(t *testing.T) {
	rec := &scriptRecorder{failSubstr: "SELECT username"}
	db := sql.OpenDB(scriptConnector{rec: rec})
	defer db.Close()
	repo := NewRepository(db, nil)

	if _, err := repo.CreateMessage(context.Background(), 7, 1, "hi"); err == nil {
		t.Fatal("expected an error when the sender lookup fails")
	}

	for _, q := range rec.all() {
		if strings.Contains(q, "INSERT") || q == "BEGIN" {
			t.Fatalf("write %q executed despite failed sender lookup", q)
		}
	}
}
