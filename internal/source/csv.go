package source

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ringba-rpc-alerts/internal/errs"
)

// Column header candidates, in preference order. Ringba's export
// headers drift between releases and between the export and the
// in-page table, so resolution is by candidate list first and
// substring match second.
var (
	targetHeaderCandidates  = []string{"Target", "Target Name", "TargetName"}
	rpcHeaderCandidates     = []string{"RPC", "Avg. Revenue per Call", "Revenue Per Call", "Revenue per Call"}
	callsHeaderCandidates   = []string{"Calls", "Call Count", "Total Calls"}
	revenueHeaderCandidates = []string{"Revenue", "Total Revenue"}
	tagsHeaderCandidates    = []string{"Tags", "Tag"}
)

// ReportRows is a parsed export: one snapshot per target plus the
// number of rows dropped for unparseable numeric fields.
type ReportRows struct {
	Snapshots []Snapshot
	Dropped   int
}

// ParseReport reads a Ringba summary export. Rows whose numeric fields
// cannot be parsed are dropped and counted; only a structurally
// unusable file (no header, no target/RPC columns) is an error.
func ParseReport(r io.Reader, capturedAt time.Time, logger zerolog.Logger) (ReportRows, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return ReportRows{}, errs.PermanentAcquisition("parse report", errors.New("export has no header row"))
	}

	targetCol := resolveColumn(header, targetHeaderCandidates, "target")
	rpcCol := resolveColumn(header, rpcHeaderCandidates, "rpc")
	callsCol := resolveColumn(header, callsHeaderCandidates, "calls")
	revenueCol := resolveColumn(header, revenueHeaderCandidates, "revenue")
	tagsCol := resolveColumn(header, tagsHeaderCandidates, "tags")

	if targetCol < 0 || rpcCol < 0 {
		return ReportRows{}, errs.PermanentAcquisition("parse report",
			errors.New("export is missing target or RPC columns: "+strings.Join(header, ",")))
	}

	out := ReportRows{}
	rowNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			out.Dropped++
			continue
		}

		name := strings.TrimSpace(cell(record, targetCol))
		if name == "" || strings.EqualFold(name, "total") {
			continue
		}

		rpc, perr := parseMoney(cell(record, rpcCol))
		if perr != nil {
			logger.Debug().Err(&errs.ParseError{Row: rowNum, Field: "rpc", Value: cell(record, rpcCol)}).Msg("dropping export row")
			out.Dropped++
			continue
		}

		snap := Snapshot{
			TargetID:   name,
			TargetName: name,
			Enabled:    true,
			RPC:        rpc,
			CapturedAt: capturedAt,
			Method:     MethodScraped,
		}

		if callsCol >= 0 {
			calls, perr := parseCount(cell(record, callsCol))
			if perr != nil {
				logger.Debug().Err(&errs.ParseError{Row: rowNum, Field: "calls", Value: cell(record, callsCol)}).Msg("dropping export row")
				out.Dropped++
				continue
			}
			snap.Calls = calls
		}
		if revenueCol >= 0 {
			revenue, perr := parseMoney(cell(record, revenueCol))
			if perr != nil {
				logger.Debug().Err(&errs.ParseError{Row: rowNum, Field: "revenue", Value: cell(record, revenueCol)}).Msg("dropping export row")
				out.Dropped++
				continue
			}
			snap.Revenue = revenue
		}
		if tagsCol >= 0 {
			snap.Tags = parseTags(cell(record, tagsCol))
		}

		out.Snapshots = append(out.Snapshots, snap)
	}

	if out.Dropped > 0 {
		logger.Warn().Int("dropped_rows", out.Dropped).Int("parsed", len(out.Snapshots)).Msg("export contained unparseable rows")
	}
	return out, nil
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}

func resolveColumn(header []string, candidates []string, substring string) int {
	for _, want := range candidates {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), want) {
				return i
			}
		}
	}
	for i, h := range header {
		if strings.Contains(strings.ToLower(h), substring) {
			return i
		}
	}
	return -1
}

// parseMoney accepts "$12.34", "12.34", "1,234.56" and blank (zero).
func parseMoney(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseCount(raw string) (int64, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// parseTags reads "spanish (12), medicare (5)" or a bare "spanish,
// medicare" list. A missing count defaults to 1.
func parseTags(raw string) []TagCount {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	var tags []TagCount
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := part
		count := 1
		if open := strings.LastIndex(part, "("); open > 0 && strings.HasSuffix(part, ")") {
			if n, err := strconv.Atoi(strings.TrimSpace(part[open+1 : len(part)-1])); err == nil {
				name = strings.TrimSpace(part[:open])
				count = n
			}
		}
		tags = append(tags, TagCount{Name: name, Count: count})
	}
	return tags
}
