package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ignite/carrier-mapping/internal/app"
	"github.com/ignite/carrier-mapping/internal/config"
	"github.com/ignite/carrier-mapping/internal/datanorm"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	insurer := flag.String("insurer", "", "carrier id or name (required)")
	file := flag.String("file", "", "CSV report to normalize (required)")
	kind := flag.String("kind", "", "commission or delinquency; detected from the file when empty")
	delimiter := flag.String("delimiter", ",", "CSV field delimiter")
	flag.Parse()

	if *insurer == "" || *file == "" {
		flag.Usage()
		os.Exit(2)
	}
	reportKind, err := parseKind(*kind)
	if err != nil {
		log.Fatal(err)
	}
	sep, _ := utf8.DecodeRuneInString(*delimiter)

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("open report: %v", err)
	}
	headers, records, err := readCSV(f, sep)
	f.Close()
	if err != nil {
		log.Fatalf("read %s: %v", *file, err)
	}

	ctx := context.Background()
	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	res, err := a.Mappings.NormalizeReportForInsurer(ctx, *insurer, filepath.Base(*file), reportKind, headers, records)
	if err != nil {
		log.Fatalf("normalize: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatalf("encode: %v", err)
	}
}

func parseKind(s string) (datanorm.ReportKind, error) {
	switch k := datanorm.ReportKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", datanorm.ReportCommission, datanorm.ReportDelinquency:
		return k, nil
	default:
		return "", fmt.Errorf("unknown report kind %q", s)
	}
}

// readCSV returns the header row and the remaining records. Ragged rows are
// allowed and a leading byte order mark is dropped.
func readCSV(r io.Reader, sep rune) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	if sep != utf8.RuneError && sep != 0 {
		cr.Comma = sep
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	all, err := cr.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("empty report")
	}
	headers := all[0]
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}
	return headers, all[1:], nil
}
