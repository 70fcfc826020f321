package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jregier/n1sim/internal/dataset"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTable(patients, days int) *dataset.Table {
	tbl := &dataset.Table{
		Columns: []string{"patient_id", "block", "day", "treatment", "Pain"},
	}
	for p := 0; p < patients; p++ {
		for d := 0; d < days; d++ {
			tbl.Rows = append(tbl.Rows, []any{p, 1, d, "Treatment_1", 12.0 - float64(d)*0.5})
		}
	}
	return tbl
}

func sampleRun(id string) RunData {
	return RunData{
		Run: Run{
			ID:        id,
			CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Seed:      42,
			Patients:  2,
			Days:      3,
			Outcome:   "Pain",
			Clips:     map[string]int{"Pain": 4},
			Params:    json.RawMessage(`{"outcome":{"name":"Pain"}}`),
			Design:    json.RawMessage(`[{"treatment":"Treatment_1","days":3}]`),
		},
		Complete: sampleTable(2, 3),
	}
}

func TestStore_SaveAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	data := sampleRun("20240301T120000_abcd1234")
	data.DropTbl = sampleTable(2, 2)
	if err := s.SaveRun(ctx, data); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := s.GetRun(ctx, data.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.ID != data.ID || got.Seed != 42 || got.Patients != 2 || got.Days != 3 {
		t.Errorf("GetRun() metadata = %+v", got)
	}
	if !got.Dropout {
		t.Error("GetRun() Dropout = false, want true")
	}
	if got.Outcome != "Pain" {
		t.Errorf("GetRun() Outcome = %q, want Pain", got.Outcome)
	}
	if !got.CreatedAt.Equal(data.CreatedAt) {
		t.Errorf("GetRun() CreatedAt = %v, want %v", got.CreatedAt, data.CreatedAt)
	}
	if got.Clips["Pain"] != 4 {
		t.Errorf("GetRun() Clips = %v", got.Clips)
	}
	if string(got.Params) != string(data.Params) {
		t.Errorf("GetRun() Params = %s", got.Params)
	}
	if string(got.Design) != string(data.Design) {
		t.Errorf("GetRun() Design = %s", got.Design)
	}
}

func TestStore_GetRunNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := sampleRun("older")
	older.CreatedAt = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := sampleRun("newer")
	newer.CreatedAt = time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	for _, data := range []RunData{older, newer} {
		if err := s.SaveRun(ctx, data); err != nil {
			t.Fatalf("SaveRun(%s) error = %v", data.ID, err)
		}
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns() returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != "newer" || runs[1].ID != "older" {
		t.Errorf("ListRuns() order = [%s, %s], want [newer, older]", runs[0].ID, runs[1].ID)
	}
	if runs[0].Params != nil {
		t.Error("ListRuns() should not hydrate Params")
	}
}

func TestStore_LoadTableRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	data := sampleRun("roundtrip")
	if err := s.SaveRun(ctx, data); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	tbl, err := s.LoadTable(ctx, "roundtrip", CohortComplete)
	if err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}
	if len(tbl.Columns) != 5 || tbl.Columns[0] != "patient_id" {
		t.Errorf("LoadTable() columns = %v", tbl.Columns)
	}
	if len(tbl.Rows) != 6 {
		t.Fatalf("LoadTable() returned %d rows, want 6", len(tbl.Rows))
	}
	if v, ok := tbl.Float(0, "Pain"); !ok || v != 12.0 {
		t.Errorf("LoadTable() Pain[0] = %v, %v", v, ok)
	}
	if v, ok := tbl.Float(5, "day"); !ok || v != 2 {
		t.Errorf("LoadTable() day[5] = %v, %v", v, ok)
	}
	rec := tbl.Record(3)
	if rec["treatment"] != "Treatment_1" {
		t.Errorf("LoadTable() treatment = %v", rec["treatment"])
	}
}

func TestStore_LoadTableMissingCohort(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveRun(ctx, sampleRun("nodrop")); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if _, err := s.LoadTable(ctx, "nodrop", CohortDropout); !errors.Is(err, ErrNoCohort) {
		t.Errorf("LoadTable(dropout) error = %v, want ErrNoCohort", err)
	}
	if _, err := s.LoadTable(ctx, "nodrop", "partial"); err == nil {
		t.Error("LoadTable(partial) expected error for unknown cohort")
	}
	if _, err := s.LoadTable(ctx, "missing", CohortComplete); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadTable(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveRun(ctx, sampleRun("victim")); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := s.DeleteRun(ctx, "victim"); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	if _, err := s.GetRun(ctx, "victim"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := s.LoadTable(ctx, "victim", CohortComplete); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadTable() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteRun(ctx, "victim"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteRun() twice error = %v, want ErrNotFound", err)
	}
}

func TestStore_OpenEmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Error("Open() expected error for blank path")
	}
}

func TestNewRunID(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	id := NewRunID(now)
	if !strings.HasPrefix(id, "20240301T123045_") {
		t.Errorf("NewRunID() = %q, want timestamp prefix", id)
	}
	if len(id) != len("20240301T123045_")+8 {
		t.Errorf("NewRunID() length = %d", len(id))
	}
	if NewRunID(now) == id {
		t.Error("NewRunID() should differ across calls")
	}
}
