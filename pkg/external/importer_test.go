package external

import (
	"context"
	"errors"
	"testing"

	"github.com/yumyai/phamdb/pkg/model"
)

const goodFlatFile = `#phage Mycoplasma1 Friendly Name
ACGTACGT
ACGT
>gene Mycoplasma1_1 terminase
MKLVDD
>gene Mycoplasma1_2
MASTQ
`

func TestImportFlatFile(t *testing.T) {
	record, err := FlatImporter{}.Import(context.Background(), []byte(goodFlatFile))
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if record.PhageID != "Mycoplasma1" {
		t.Errorf("phage id = %q", record.PhageID)
	}
	if record.Name != "Friendly Name" {
		t.Errorf("name = %q", record.Name)
	}
	if record.Sequence != "ACGTACGTACGT" {
		t.Errorf("sequence = %q", record.Sequence)
	}
	if len(record.Genes) != 2 {
		t.Fatalf("genes = %+v", record.Genes)
	}
	if record.Genes[0].GeneID != "Mycoplasma1_1" || record.Genes[0].Name != "terminase" {
		t.Errorf("gene 0 = %+v", record.Genes[0])
	}
	if record.Genes[0].Translation != "MKLVDD" {
		t.Errorf("translation = %q", record.Genes[0].Translation)
	}
	// A gene without a display name falls back to its id.
	if record.Genes[1].Name != "Mycoplasma1_2" {
		t.Errorf("gene 1 name = %q", record.Genes[1].Name)
	}
}

func TestImportRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name, input string
	}{
		{"empty", ""},
		{"no header", "ACGT\n"},
		{"gene before header", ">gene g1\nMKL\n"},
		{"header without id", "#phage\nACGT\n"},
		{"duplicate header", "#phage a\nACGT\n#phage b\nACGT\n"},
		{"gene without id", "#phage a\nACGT\n>gene\nMKL\n"},
		{"gene without translation", "#phage a\nACGT\n>gene g1\n"},
		{"bad sequence characters", "#phage a\nACGT!!\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FlatImporter{}.Import(context.Background(), []byte(tt.input))
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("got %v, want ValidationError", err)
			}
		})
	}
}

func TestImportLineNumbers(t *testing.T) {
	input := "#phage a\nACGT\n#phage b\n"
	_, err := FlatImporter{}.Import(context.Background(), []byte(input))
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v", err)
	}
	if verr.Line != 3 {
		t.Errorf("line = %d, want 3", verr.Line)
	}
}
