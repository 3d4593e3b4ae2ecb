package decoder

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	bulkerr "github.com/arkilian/bulkindex/internal/errors"
	"github.com/arkilian/bulkindex/pkg/types"
)

func TestCSVReader_StreamsDocuments(t *testing.T) {
	input := "Code,Country\n\nGER,Germany\r\nAUT,\"Austria\"\n\n"
	r := NewCSVReader(strings.NewReader(input), FieldCountStrict, 0)

	rows, err := types.Collect(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	want := []string{
		`{"Code":"GER","Country":"Germany"}`,
		`{"Code":"AUT","Country":"Austria"}`,
	}
	for i, row := range rows {
		doc, ok := row[0].([]byte)
		if !ok {
			t.Fatalf("row %d: expected []byte document, got %T", i, row[0])
		}
		if string(doc) != want[i] {
			t.Errorf("row %d: got %s, want %s", i, doc, want[i])
		}
	}
	if got := r.Header(); len(got) != 2 || got[0] != "Code" {
		t.Errorf("unexpected header %v", got)
	}
}

func TestCSVReader_EmptySource(t *testing.T) {
	r := NewCSVReader(strings.NewReader("\n\n"), FieldCountStrict, 0)
	_, err := r.Next(context.Background())
	if !errors.Is(err, bulkerr.ErrMalformedHeader) {
		t.Fatalf("expected malformed header, got %v", err)
	}
}

func TestCSVReader_HeaderOnly(t *testing.T) {
	r := NewCSVReader(strings.NewReader("Code,Country\n"), FieldCountStrict, 0)
	if _, err := r.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestCSVReader_ErrorIsStickyAndCarriesLine(t *testing.T) {
	input := "Code,Country\nGER,Germany\nAUT,Austria,Europe\nFRA,France\n"
	r := NewCSVReader(strings.NewReader(input), FieldCountStrict, 0)
	ctx := context.Background()

	if _, err := r.Next(ctx); err != nil {
		t.Fatalf("first row: unexpected error: %v", err)
	}
	_, err := r.Next(ctx)
	if !errors.Is(err, bulkerr.ErrFieldCountMismatch) {
		t.Fatalf("expected field count mismatch, got %v", err)
	}
	var be *bulkerr.BulkError
	if !errors.As(err, &be) || be.Details["line"] != 3 {
		t.Errorf("expected line 3 in details, got %v", err)
	}
	if _, again := r.Next(ctx); again != err {
		t.Errorf("expected sticky error, got %v", again)
	}
}

func TestCSVReader_LineTooLong(t *testing.T) {
	input := "a\n" + strings.Repeat("x", 256) + "\n"
	r := NewCSVReader(strings.NewReader(input), FieldCountStrict, 64)
	_, err := r.Next(context.Background())
	if bulkerr.GetCode(err) != bulkerr.CodeMalformedRow {
		t.Fatalf("expected malformed row, got %v", err)
	}
}

func TestCSVReader_CancelledContext(t *testing.T) {
	r := NewCSVReader(strings.NewReader("a\n1\n"), FieldCountStrict, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
