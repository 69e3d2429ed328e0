package external

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/yumyai/phamdb/pkg/model"
)

// FlatImporter parses the flat upload format produced by the genbank
// conversion step:
//
//	#phage <phage_id> <display name>
//	<genome sequence lines>
//	>gene <gene_id> <gene name>
//	<translation lines>
//
// The genbank grammar itself is out of scope here; this consumes the
// already-flattened records.
type FlatImporter struct{}

func invalid(line int, message string) error {
	return &model.ValidationError{Line: line, Message: message}
}

func (FlatImporter) Import(ctx context.Context, raw []byte) (*model.PhageRecord, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	record := &model.PhageRecord{}
	var current *model.GeneRecord
	var body strings.Builder
	lineno := 0

	flush := func() {
		if current != nil {
			current.Translation = body.String()
			record.Genes = append(record.Genes, *current)
		} else {
			record.Sequence = body.String()
		}
		body.Reset()
	}

	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue

		case strings.HasPrefix(line, "#phage"):
			if record.PhageID != "" {
				return nil, invalid(lineno, "duplicate #phage header")
			}
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return nil, invalid(lineno, "#phage header needs an id")
			}
			record.PhageID = fields[1]
			record.Name = record.PhageID
			if len(fields) > 2 {
				record.Name = strings.Join(fields[2:], " ")
			}

		case strings.HasPrefix(line, ">gene"):
			if record.PhageID == "" {
				return nil, invalid(lineno, "gene record before #phage header")
			}
			flush()
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return nil, invalid(lineno, ">gene record needs an id")
			}
			current = &model.GeneRecord{GeneID: fields[1], Name: fields[1]}
			if len(fields) > 2 {
				current.Name = fields[2]
			}

		default:
			if record.PhageID == "" {
				return nil, invalid(lineno, "sequence data before #phage header")
			}
			if !isSequence(line) {
				return nil, invalid(lineno, "malformed sequence line")
			}
			body.WriteString(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, invalid(lineno, err.Error())
	}

	if record.PhageID == "" {
		return nil, invalid(lineno, "missing #phage header")
	}
	flush()

	for _, g := range record.Genes {
		if g.Translation == "" {
			return nil, invalid(lineno, "gene "+g.GeneID+" has no translation")
		}
	}
	return record, nil
}

func isSequence(line string) bool {
	for _, r := range line {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r == '*', r == '-':
		default:
			return false
		}
	}
	return true
}
