package external

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"

	"github.com/yumyai/phamdb/pkg/model"
)

// ExecScorer shells out to clustalw and blastp for one gene pair.
// Both binaries read a two-record FASTA written to a scratch dir.
type ExecScorer struct {
	WorkDir string
}

func (s *ExecScorer) Score(ctx context.Context, seqA, seqB string) (PairScores, error) {
	dir, err := os.MkdirTemp(s.WorkDir, "pairscore")
	if err != nil {
		return PairScores{}, fmt.Errorf("scoring scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	fasta := path.Join(dir, "pair.fasta")
	content := fmt.Sprintf(">a\n%s\n>b\n%s\n", seqA, seqB)
	if err := os.WriteFile(fasta, []byte(content), 0644); err != nil {
		return PairScores{}, fmt.Errorf("write pair fasta: %w", err)
	}

	identity, align, err := runClustalw(ctx, fasta, dir)
	if err != nil {
		return PairScores{}, err
	}
	bit, err := runBlastPair(ctx, fasta, dir)
	if err != nil {
		return PairScores{}, err
	}

	return PairScores{
		AlignmentScore: align,
		BitScore:       bit,
		IdentityScore:  identity,
	}, nil
}

func runClustalw(ctx context.Context, fasta, dir string) (identity, align float64, err error) {
	out := path.Join(dir, "pair.aln")
	cmd := exec.CommandContext(ctx, "clustalw",
		"-INFILE="+fasta, "-OUTFILE="+out, "-ALIGN", "-STATS="+path.Join(dir, "stats.txt"))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: clustalw: %v - %s",
			model.ErrScoringUnavailable, err, output)
	}

	// clustalw reports "Sequences (1:2) Aligned. Score: 85" on stdout.
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "Aligned. Score:") {
			fields := strings.Fields(line)
			v, perr := strconv.ParseFloat(fields[len(fields)-1], 64)
			if perr == nil {
				identity = v
			}
		}
		if strings.Contains(line, "Alignment Score") {
			fields := strings.Fields(line)
			v, perr := strconv.ParseFloat(fields[len(fields)-1], 64)
			if perr == nil {
				align = v
			}
		}
	}
	return identity, align, nil
}

func runBlastPair(ctx context.Context, fasta, dir string) (float64, error) {
	// blastp two-sequence mode, tabular output with bit score only.
	cmd := exec.CommandContext(ctx, "blastp",
		"-query", fasta, "-subject", fasta, "-outfmt", "6 qseqid sseqid bitscore")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("%w: blastp: %v - %s",
			model.ErrScoringUnavailable, err, output)
	}

	best := 0.0
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 || fields[0] == fields[1] {
			continue
		}
		v, perr := strconv.ParseFloat(fields[2], 64)
		if perr == nil && v > best {
			best = v
		}
	}
	return best, nil
}

// ExecDomainSearcher shells out to rpsblast against a conserved domain
// database.
type ExecDomainSearcher struct {
	CddDB string
}

func (d *ExecDomainSearcher) Search(ctx context.Context, geneID, seq string) ([]model.DomainHit, error) {
	cmd := exec.CommandContext(ctx, "rpsblast",
		"-db", d.CddDB, "-outfmt",
		"6 sseqid stitle qstart qend evalue")
	cmd.Stdin = strings.NewReader(fmt.Sprintf(">%s\n%s\n", geneID, seq))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("rpsblast: %v - %s", err, output)
	}

	var hits []model.DomainHit
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), "\t", 5)
		if len(fields) != 5 {
			continue
		}
		start, _ := strconv.Atoi(fields[2])
		end, _ := strconv.Atoi(fields[3])
		expect, _ := strconv.ParseFloat(fields[4], 64)

		// stitle looks like "cdd:12345, Name, description...".
		name, description := splitTitle(fields[1])
		hits = append(hits, model.DomainHit{
			GeneID:      geneID,
			HitID:       fields[0],
			DomainID:    strings.TrimPrefix(fields[0], "gnl|CDD|"),
			Name:        name,
			Description: description,
			QueryStart:  start,
			QueryEnd:    end,
			Expect:      expect,
		})
	}
	return hits, nil
}

func splitTitle(title string) (name, description string) {
	parts := strings.SplitN(title, ",", 2)
	name = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		description = strings.TrimSpace(parts[1])
	}
	return name, description
}
