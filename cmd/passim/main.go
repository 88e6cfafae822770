// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// passim is a text reuse detection pipeline: it enumerates candidate
// document pairs sharing n-grams, merges and aligns them, clusters the
// resulting alignments into reprint families, and can hunt a known
// reference quotation through a corpus index.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/textreuse/passim/cluster"
	"github.com/textreuse/passim/index"
	"github.com/textreuse/passim/internal/align"
	"github.com/textreuse/passim/internal/kvstore"
	"github.com/textreuse/passim/internal/record"
	"github.com/textreuse/passim/internal/seriesmap"
	"github.com/textreuse/passim/pairalign"
	"github.com/textreuse/passim/pairenum"
	"github.com/textreuse/passim/pairmerge"
	"github.com/textreuse/passim/quotehunt"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("passim: ")
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "pairs":
		err = runPairs(os.Args[2:])
	case "merge":
		err = runMerge(os.Args[2:])
	case "scores":
		err = runScores(os.Args[2:])
	case "cluster":
		err = runCluster(os.Args[2:])
	case "quotes":
		err = runQuotes(os.Args[2:])
	case "format", "gexf", "idtab":
		fmt.Fprintf(os.Stderr, "passim %s: not implemented in this core\n", os.Args[1])
		os.Exit(2)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %[1]s <command> [flags]

Commands:
  pairs    enumerate candidate cross-series document pairs
  merge    merge repeated candidate pairs, dropping weak ones
  scores   locally align each merged pair
  cluster  greedily cluster aligned passages into reprint families
  quotes   hunt a reference quotation through an index
  format, gexf, idtab
           out-of-core-scope formatting commands

Run "%[1]s <command> -h" for command-specific flags.
`, os.Args[0])
}

func stringFlag(fs *flag.FlagSet, p *string, short, long string, def, usage string) {
	fs.StringVar(p, short, def, usage)
	fs.StringVar(p, long, def, usage)
}

func intFlag(fs *flag.FlagSet, p *int, short, long string, def int, usage string) {
	fs.IntVar(p, short, def, usage)
	fs.IntVar(p, long, def, usage)
}

func floatFlag(fs *flag.FlagSet, p *float64, short, long string, def float64, usage string) {
	fs.Float64Var(p, short, def, usage)
	fs.Float64Var(p, long, def, usage)
}

func boolFlag(fs *flag.FlagSet, p *bool, short, long string, def bool, usage string) {
	fs.BoolVar(p, short, def, usage)
	fs.BoolVar(p, long, def, usage)
}

// runPairs implements the pairs sub-command.
func runPairs(args []string) error {
	fs := flag.NewFlagSet("pairs", flag.ExitOnError)
	var (
		counts     bool
		maxSeries  int
		maxDF      int
		seriesMap  string
		modp       int
		modrec     int
		step       int
		stride     int
		wordLength float64
		stopPath   string
	)
	boolFlag(fs, &counts, "c", "counts", false, "emit a series-pair histogram instead of pair records")
	intFlag(fs, &maxSeries, "u", "max-series", 100, "maximum distinct series per n-gram")
	intFlag(fs, &maxDF, "d", "max-df", 100, "maximum per-document term frequency")
	stringFlag(fs, &seriesMap, "m", "series-map", "", "precomputed docId->seriesId TSV (default: derive from names)")
	intFlag(fs, &modp, "p", "modp", 1, "shard the key space 1/modp")
	intFlag(fs, &modrec, "r", "modrec", 1, "shard emitted pairs 1/modrec")
	intFlag(fs, &step, "s", "step", 0, "which shard of the key space to scan")
	intFlag(fs, &stride, "t", "stride", 1000, "keys per shard (0 = unlimited)")
	floatFlag(fs, &wordLength, "w", "word-length", 1.5, "minimum mean token character length")
	stringFlag(fs, &stopPath, "S", "stop", "", "stopword list, one token per line")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("pairs: missing index part path")
	}
	store, err := kvstore.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	series, err := loadSeries(store, seriesMap)
	if err != nil {
		return err
	}
	stop, err := loadStop(stopPath)
	if err != nil {
		return err
	}

	cfg := pairenum.Config{
		MaxSeries: maxSeries, MaxDF: maxDF, ModP: modp, ModRec: modrec,
		Step: step, Stride: stride, WordLength: wordLength, Stop: stop,
	}
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	if counts {
		var stats pairenum.Stats
		if err := pairenum.Run(store, series, cfg, nil, &stats); err != nil {
			return err
		}
		for k, n := range stats.Counts {
			fmt.Fprintf(w, "%d\t%d\t%d\n", k.SeriesA, k.SeriesB, n)
		}
		return nil
	}
	return pairenum.Run(store, series, cfg, func(p record.Pair) error {
		_, err := fmt.Fprintln(w, record.FormatPair(p))
		return err
	}, nil)
}

// runMerge implements the merge sub-command.
func runMerge(args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	var minMatches int
	intFlag(fs, &minMatches, "m", "min-matches", 1, "minimum concatenated feature count to keep a pair")
	fs.Parse(args)

	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	next := func() (record.Pair, bool, error) {
		if !in.Scan() {
			return record.Pair{}, false, in.Err()
		}
		p, err := record.ParsePair(in.Text())
		return p, true, err
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	return pairmerge.Merge(next, pairmerge.Config{MinMatches: minMatches}, func(p record.Pair) error {
		_, err := fmt.Fprintln(w, record.FormatPair(p))
		return err
	})
}

// runScores implements the scores sub-command.
func runScores(args []string) error {
	fs := flag.NewFlagSet("scores", flag.ExitOnError)
	var gram int
	intFlag(fs, &gram, "n", "ngram", 5, "anchor n-gram length (0 = full-document alignment)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("scores: missing index directory")
	}
	store, err := kvstore.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	cfg := pairalign.Config{Ngram: gram, Params: align.DefaultParams}
	var stats pairalign.Stats

	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	for in.Scan() {
		p, err := record.ParsePair(in.Text())
		if err != nil {
			return err
		}
		err = pairalign.Run(store, p, cfg, &stats, func(a record.Alignment) error {
			_, err := fmt.Fprintln(w, record.FormatAlignment(a))
			return err
		})
		if err != nil {
			return err
		}
	}
	if err := in.Err(); err != nil {
		return err
	}
	log.Printf("aligned %d pairs, %d degraded, %d passages emitted", stats.Pairs, stats.Degraded, stats.Emitted)
	return nil
}

// runCluster implements the cluster sub-command.
func runCluster(args []string) error {
	fs := flag.NewFlagSet("cluster", flag.ExitOnError)
	var (
		minOverlap  int
		relOverlap  float64
		maxProp     float64
		maxRepeats  int
		dotPath     string
		seriesDelim string
	)
	intFlag(fs, &minOverlap, "m", "min-overlap", 0, "absolute token-span overlap required to link (0 = use relative-overlap)")
	floatFlag(fs, &relOverlap, "o", "relative-overlap", 0.5, "relative token-span overlap required to link")
	floatFlag(fs, &maxProp, "p", "max-proportion", 1.0, "drop a cluster whose top series exceeds this share of members")
	intFlag(fs, &maxRepeats, "r", "max-repeats", 4, "drop a cluster whose top series contributes more than this many members")
	fs.StringVar(&dotPath, "dot", "", "write the surviving single-link graph in DOT format to this path")
	fs.StringVar(&seriesDelim, "series-delim", "/", "delimiter separating a document name's series prefix")
	fs.Parse(args)

	cl := cluster.New(cluster.Config{
		MinOverlap: minOverlap, RelativeOverlap: relOverlap,
		MaxProportion: maxProp, MaxRepeats: maxRepeats, SeriesDelim: seriesDelim,
	})

	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		a, err := record.ParseAlignment(line)
		if err != nil {
			return err
		}
		cl.Add(a)
	}
	if err := in.Err(); err != nil {
		return err
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	if err := cluster.WriteJSON(w, cl.Clusters()); err != nil {
		return err
	}
	if dotPath != "" {
		f, err := os.Create(dotPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return cl.WriteDOT(f)
	}
	return nil
}

// runQuotes implements the quotes sub-command.
func runQuotes(args []string) error {
	fs := flag.NewFlagSet("quotes", flag.ExitOnError)
	var (
		maxCount int
		maxGap   int
		minScore float64
		pretty   bool
		words    bool
		lmPath   string
		badDocs  string
		gram     int
	)
	intFlag(fs, &maxCount, "c", "max-count", 1000, "skip n-grams with more than this many postings")
	intFlag(fs, &maxGap, "g", "max-gap", 200, "maximum reference-position gap within a chained span")
	floatFlag(fs, &minScore, "s", "min-score", 0, "minimum chained-span score to keep")
	boolFlag(fs, &pretty, "p", "pretty", false, "pretty-print emitted JSON")
	boolFlag(fs, &words, "w", "words", false, "include per-word OCR bounding boxes when available")
	stringFlag(fs, &lmPath, "l", "lm", "", "optional language model path (unused by this core's scoring)")
	fs.StringVar(&badDocs, "bad-docs", "", "file of document names to exclude from hits, one per line")
	fs.IntVar(&gram, "ngram", 5, "n-gram length the index was built with")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("quotes: missing index directory")
	}
	store, err := kvstore.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	bad, err := loadNameSet(badDocs)
	if err != nil {
		return err
	}
	badIDs, err := quotehunt.ResolveBadDocs(store, bad)
	if err != nil {
		return err
	}

	refs, err := loadReferences(os.Stdin)
	if err != nil {
		return err
	}

	cfg := quotehunt.Config{
		Gram: gram, MaxCount: maxCount, MaxGap: maxGap, MinScore: minScore,
		Words: words, BadDocs: badIDs,
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return quotehunt.Run(store, refs, cfg, func(r quotehunt.Result) error {
		return enc.Encode(r)
	})
}

func loadSeries(store index.Store, path string) (*seriesmap.Map, error) {
	if path == "" {
		return seriesmap.Build(store, "/")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return seriesmap.Load(f)
}

func loadStop(path string) (map[string]bool, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	stop := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		t := strings.TrimSpace(sc.Text())
		if t != "" {
			stop[t] = true
		}
	}
	return stop, sc.Err()
}

func loadNameSet(path string) (map[string]bool, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	names := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		t := strings.TrimSpace(sc.Text())
		if t != "" {
			names[t] = true
		}
	}
	return names, sc.Err()
}

// loadReferences reads (name, text) TSV rows from r (the
// reference-document input).
func loadReferences(r *os.File) ([]quotehunt.Reference, error) {
	var refs []quotehunt.Reference
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		i := strings.IndexByte(line, '\t')
		if i < 0 {
			return nil, fmt.Errorf("quotes: malformed reference line (no tab): %q", line)
		}
		refs = append(refs, quotehunt.Reference{Name: line[:i], Text: line[i+1:]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}
