package rowstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/hkdb/aerion/internal/dberr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.msf")
	s, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.msf")
	_, err := Open(path, false)
	if !dberr.Is(err, dberr.SummaryMissing) {
		t.Fatalf("expected SummaryMissing, got %v", err)
	}
}

func TestInternTokenStable(t *testing.T) {
	s := openTestStore(t)

	tok1, err := s.InternToken("subject")
	if err != nil {
		t.Fatalf("InternToken: %v", err)
	}
	tok2, err := s.InternToken("subject")
	if err != nil {
		t.Fatalf("InternToken: %v", err)
	}
	if tok1 != tok2 {
		t.Fatalf("expected stable token, got %d then %d", tok1, tok2)
	}

	name, err := s.TokenName(tok1)
	if err != nil {
		t.Fatalf("TokenName: %v", err)
	}
	if name != "subject" {
		t.Fatalf("expected %q, got %q", "subject", name)
	}
}

func TestTableAddRowGetRowDeleteRow(t *testing.T) {
	s := openTestStore(t)

	tok, err := s.InternToken("subject")
	if err != nil {
		t.Fatalf("InternToken: %v", err)
	}

	table, err := s.OpenTable("allmsghdrs", 1)
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}

	if err := table.AddRow(1, map[int64]Cell{
		tok: {Token: tok, Form: FormUTF8, Value: []byte("hello world")},
	}); err != nil {
		t.Fatalf("AddRow: %v", err)
	}

	row, err := table.GetRow(1)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if row == nil {
		t.Fatal("expected row, got nil")
	}
	if got := row.StringCell(tok); got != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", got)
	}

	n, err := table.RowCount()
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}

	if err := table.DeleteRow(1); err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}
	row, err = table.GetRow(1)
	if err != nil {
		t.Fatalf("GetRow after delete: %v", err)
	}
	if row != nil {
		t.Fatal("expected nil row after delete")
	}
}

func TestAddRowIdempotent(t *testing.T) {
	s := openTestStore(t)
	tok, _ := s.InternToken("subject")
	table, _ := s.OpenTable("allmsghdrs", 1)

	cells := map[int64]Cell{tok: {Token: tok, Form: FormUTF8, Value: []byte("v1")}}
	if err := table.AddRow(7, cells); err != nil {
		t.Fatalf("AddRow: %v", err)
	}
	cells[tok] = Cell{Token: tok, Form: FormUTF8, Value: []byte("v2")}
	if err := table.AddRow(7, cells); err != nil {
		t.Fatalf("AddRow (repeat): %v", err)
	}

	n, err := table.RowCount()
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 row after repeat add, got %d", n)
	}

	row, _ := table.GetRow(7)
	if got := row.StringCell(tok); got != "v2" {
		t.Fatalf("expected cell updated to %q, got %q", "v2", got)
	}
}

func TestRowIteratorInsertionOrder(t *testing.T) {
	s := openTestStore(t)
	table, _ := s.OpenTable("allmsghdrs", 1)

	oids := []uint32{5, 2, 9, 1}
	for _, oid := range oids {
		if err := table.AddRow(oid, nil); err != nil {
			t.Fatalf("AddRow(%d): %v", oid, err)
		}
	}

	it := table.NewIterator(OrderInsertion)
	defer it.Close()
	var got []uint32
	for {
		row, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if row == nil {
			break
		}
		got = append(got, row.OID)
	}

	if len(got) != len(oids) {
		t.Fatalf("expected %d rows, got %d", len(oids), len(got))
	}
	for i, oid := range oids {
		if got[i] != oid {
			t.Fatalf("insertion order mismatch at %d: expected %d, got %d", i, oid, got[i])
		}
	}
}

func TestRowIteratorOIDOrder(t *testing.T) {
	s := openTestStore(t)
	table, _ := s.OpenTable("allmsghdrs", 1)

	for _, oid := range []uint32{5, 2, 9, 1} {
		if err := table.AddRow(oid, nil); err != nil {
			t.Fatalf("AddRow(%d): %v", oid, err)
		}
	}

	it := table.NewIterator(OrderOID)
	defer it.Close()
	var got []uint32
	for {
		row, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if row == nil {
			break
		}
		got = append(got, row.OID)
	}

	want := []uint32{1, 2, 5, 9}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("oid order mismatch at %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestNextOIDMonotonic(t *testing.T) {
	s := openTestStore(t)

	first, err := s.NextOID()
	if err != nil {
		t.Fatalf("NextOID: %v", err)
	}
	second, err := s.NextOID()
	if err != nil {
		t.Fatalf("NextOID: %v", err)
	}
	if second <= first {
		t.Fatalf("expected monotonically increasing oids, got %d then %d", first, second)
	}
}

func TestCommitAndFolderCounts(t *testing.T) {
	s := openTestStore(t)

	counts := &FolderCounts{TotalMessages: 42, UnreadMessages: 7, PendingUnread: 1}
	if err := s.Commit(CommitSession, counts); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, ok, err := s.FolderCounts()
	if err != nil {
		t.Fatalf("FolderCounts: %v", err)
	}
	if !ok {
		t.Fatal("expected folder counts to be present after commit")
	}
	if got != *counts {
		t.Fatalf("expected %+v, got %+v", *counts, got)
	}
}

func TestFolderCountsAbsentBeforeFirstCommit(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.FolderCounts()
	if err != nil {
		t.Fatalf("FolderCounts: %v", err)
	}
	if ok {
		t.Fatal("expected no folder counts before any commit persisted them")
	}
}

func TestHexCodecRoundTrip(t *testing.T) {
	v32 := uint32(0xFFFFFFFE)
	if got, err := DecodeHex32(EncodeHex32(v32)); err != nil || got != v32 {
		t.Fatalf("hex32 round trip: got %x, err %v", got, err)
	}

	v64 := uint64(0x00000000FFFFFFF0)
	if got, err := DecodeHex64(EncodeHex64(v64)); err != nil || got != v64 {
		t.Fatalf("hex64 round trip: got %x, err %v", got, err)
	}
}

func TestIntegrityCheckDetectsNothingOnFreshStore(t *testing.T) {
	s := openTestStore(t)
	if err := s.IntegrityCheck(); err != nil {
		t.Fatalf("expected fresh store to pass integrity check, got %v", err)
	}
}

func TestDropTableRemovesRows(t *testing.T) {
	s := openTestStore(t)
	table, err := s.OpenTable("thread", 99)
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	if err := table.AddRow(1, nil); err != nil {
		t.Fatalf("AddRow: %v", err)
	}

	if err := s.DropTable("thread", 99); err != nil {
		t.Fatalf("DropTable: %v", err)
	}

	existing, err := s.ExistingTable("thread", 99)
	if err != nil {
		t.Fatalf("ExistingTable: %v", err)
	}
	if existing != nil {
		t.Fatal("expected table to be gone after DropTable")
	}
}

func TestErrorsAreNotUnexpectedWrapped(t *testing.T) {
	var target error = dberr.New(dberr.SummaryMissing, "x")
	var got *dberr.Error
	if !errors.As(target, &got) {
		t.Fatal("expected *dberr.Error to satisfy errors.As")
	}
	if got.Kind != dberr.SummaryMissing {
		t.Fatalf("expected kind SummaryMissing to survive, got %v", got.Kind)
	}
}
