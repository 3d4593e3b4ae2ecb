package decoder

import (
	"errors"
	"strings"
	"testing"

	bulkerr "github.com/arkilian/bulkindex/internal/errors"
	"github.com/google/go-cmp/cmp"
)

func parseOne(t *testing.T, header, row string) string {
	t.Helper()
	p := NewLineParser(FieldCountStrict)
	if _, err := p.ParseHeader(header); err != nil {
		t.Fatalf("ParseHeader(%q): unexpected error: %v", header, err)
	}
	doc, err := p.Parse(row)
	if err != nil {
		t.Fatalf("Parse(%q): unexpected error: %v", row, err)
	}
	return string(doc)
}

func TestParse_CSVInputParsesToJSON(t *testing.T) {
	got := parseOne(t, "Code,Country\n", "GER,Germany\n")
	want := `{"Code":"GER","Country":"Germany"}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestParse_TrimsWhitespace(t *testing.T) {
	want := `{"Code":"GER","Country":"Germany"}`
	tests := []struct {
		name   string
		header string
		row    string
	}{
		{"trailing whitespace in header", "Code ,Country  \n", "GER,Germany\n"},
		{"preceding whitespace in header", "         Code,         Country\n", "GER,Germany\n"},
		{"trailing whitespace in row", "Code,Country\n", "GER        ,Germany\n"},
		{"preceding whitespace in row", "Code,Country\n", "GER,               Germany\n"},
		{"tabs and carriage return", "\tCode,Country\r\n", "GER\t,Germany\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseOne(t, tt.header, tt.row); got != want {
				t.Errorf("got %s, want %s", got, want)
			}
		})
	}
}

func TestParse_QuotedHeaderFieldWithComma(t *testing.T) {
	got := parseOne(t, "Code,\"Coun, try\"\n", "GER,Germany\n")
	want := `{"Code":"GER","Coun, try":"Germany"}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestParse_QuotedValuePreservesInnerWhitespace(t *testing.T) {
	got := parseOne(t, "Code,City\n", "GER,  \" Bad  Homburg \"  \n")
	want := `{"Code":"GER","City":" Bad  Homburg "}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestParse_EscapedQuote(t *testing.T) {
	got := parseOne(t, "Code,Name\n", "GER,\"the \"\"big\"\" one\"\n")
	want := `{"Code":"GER","Name":"the \"big\" one"}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestParse_MissingValueIsEmptyString(t *testing.T) {
	got := parseOne(t, "Code,Country,City\n", "GER,,Berlin\n")
	want := `{"Code":"GER","Country":"","City":"Berlin"}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestParse_ShortRowFillsTrailingFields(t *testing.T) {
	got := parseOne(t, "Code,Country,Another\n", "GER,Germany\n")
	want := `{"Code":"GER","Country":"Germany","Another":""}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestParse_LongRowStrict(t *testing.T) {
	p := NewLineParser(FieldCountStrict)
	if _, err := p.ParseHeader("Code,Country\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := p.Parse("GER,Germany,Europe\n")
	if !errors.Is(err, bulkerr.ErrFieldCountMismatch) {
		t.Fatalf("expected field count mismatch, got %v", err)
	}
}

func TestParse_LongRowTruncate(t *testing.T) {
	p := NewLineParser(FieldCountTruncate)
	if _, err := p.ParseHeader("Code,Country\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc, err := p.Parse("GER,Germany,Europe\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := `{"Code":"GER","Country":"Germany"}`; string(doc) != want {
		t.Errorf("got %s, want %s", doc, want)
	}
}

func TestParseHeader_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"empty header", "\n"},
		{"blank header", "   \n"},
		{"duplicate key", "Code,Country,Country\n"},
		{"duplicate after trim", "Code, Country,Country \n"},
		{"missing key", "Code,\n"},
		{"empty middle key", "Code,,Country\n"},
		{"empty quoted key", "Code,\"\"\n"},
		{"unterminated quote", "Code,\"Country\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewLineParser(FieldCountStrict)
			_, err := p.ParseHeader(tt.header)
			if !errors.Is(err, bulkerr.ErrMalformedHeader) {
				t.Fatalf("expected malformed header error, got %v", err)
			}
			if p.Header() != nil {
				t.Error("failed header must not be stored")
			}
		})
	}
}

func TestParseHeader_CaseSensitiveNames(t *testing.T) {
	p := NewLineParser(FieldCountStrict)
	header, err := p.ParseHeader("code,Code\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Header{"code", "Code"}, header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_WithoutHeader(t *testing.T) {
	p := NewLineParser(FieldCountStrict)
	if _, err := p.Parse("GER,Germany\n"); err == nil {
		t.Fatal("expected error when parsing before header")
	}
}

func TestParse_UnterminatedQuoteInRow(t *testing.T) {
	p := NewLineParser(FieldCountStrict)
	if _, err := p.ParseHeader("Code,Country\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := p.Parse("GER,\"Germany\n")
	if bulkerr.GetCode(err) != bulkerr.CodeMalformedRow {
		t.Fatalf("expected malformed row, got %v", err)
	}
}

func TestParse_TextAfterClosingQuote(t *testing.T) {
	p := NewLineParser(FieldCountStrict)
	if _, err := p.ParseHeader("Code,Name\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, row := range []string{"GER,\"a\" b\n", "GER,\"x\" \"y\"\n"} {
		if _, err := p.Parse(row); bulkerr.GetCode(err) != bulkerr.CodeMalformedRow {
			t.Errorf("Parse(%q): expected malformed row, got %v", row, err)
		}
	}

	if _, err := NewLineParser(FieldCountStrict).ParseHeader("\"Code\"x,Name\n"); !errors.Is(err, bulkerr.ErrMalformedHeader) {
		t.Errorf("expected malformed header, got %v", err)
	}
}

func TestParseFields_Map(t *testing.T) {
	p := NewLineParser(FieldCountStrict)
	if _, err := p.ParseHeader("Code,Country\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fs, err := p.ParseFields("GER,Germany\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{"Code": "GER", "Country": "Germany"}
	if diff := cmp.Diff(want, fs.Map()); diff != "" {
		t.Errorf("field set mismatch (-want +got):\n%s", diff)
	}
	if v, ok := fs.Get("Country"); !ok || v != "Germany" {
		t.Errorf("Get(Country) = %q, %v", v, ok)
	}
	if _, ok := fs.Get("City"); ok {
		t.Error("Get of unknown column should report false")
	}
}

func TestSplitLine_HeaderParsedOnceReused(t *testing.T) {
	p := NewLineParser(FieldCountStrict)
	if _, err := p.ParseHeader("a,b\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, row := range []string{"1,2", "3,4", "5"} {
		doc, err := p.Parse(row)
		if err != nil {
			t.Fatalf("Parse(%q): %v", row, err)
		}
		if !strings.HasPrefix(string(doc), `{"a":`) {
			t.Errorf("unexpected document %s", doc)
		}
	}
}
