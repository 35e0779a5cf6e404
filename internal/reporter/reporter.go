package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fenilsonani/organizer/internal/category"
	"github.com/fenilsonani/organizer/internal/duplicates"
	"github.com/fenilsonani/organizer/internal/hashcache"
	"github.com/fenilsonani/organizer/internal/hashing"
	"github.com/fenilsonani/organizer/internal/progress"
	"github.com/fenilsonani/organizer/internal/scanner"
	"github.com/fenilsonani/organizer/internal/transaction"
	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatTable   OutputFormat = "table"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
	FormatSummary OutputFormat = "summary"
)

// ParseFormat validates a format name; empty means table
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML, FormatSummary:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

const rule = "────────────────────────────────────────────────────────────────────────────────"

// Reporter handles report generation
type Reporter struct {
	writer io.Writer
	format OutputFormat
	now    func() time.Time
}

// New creates a new Reporter
func New(writer io.Writer, format OutputFormat) *Reporter {
	return &Reporter{
		writer: writer,
		format: format,
		now:    time.Now,
	}
}

func (r *Reporter) timestamp() string {
	return r.now().Format(time.RFC3339)
}

// encode writes v as JSON or YAML. It reports false for text formats.
func (r *Reporter) encode(v interface{}) (bool, error) {
	switch r.format {
	case FormatJSON:
		encoder := json.NewEncoder(r.writer)
		encoder.SetIndent("", "  ")
		return true, encoder.Encode(v)
	case FormatYAML:
		encoder := yaml.NewEncoder(r.writer)
		defer encoder.Close()
		return true, encoder.Encode(v)
	case FormatTable, FormatSummary:
		return false, nil
	default:
		return true, fmt.Errorf("unsupported format: %s", r.format)
	}
}

func truncate(path string, width int) string {
	if len(path) <= width {
		return path
	}
	return "..." + path[len(path)-width+3:]
}

// =============================================================================
// Scan
// =============================================================================

type scanReport struct {
	Timestamp          string               `json:"timestamp" yaml:"timestamp"`
	TotalFiles         int                  `json:"total_files" yaml:"total_files"`
	TotalSize          int64                `json:"total_size" yaml:"total_size"`
	TotalSizeFormatted string               `json:"total_size_formatted" yaml:"total_size_formatted"`
	Categories         map[string]int       `json:"categories" yaml:"categories"`
	Unmatched          []string             `json:"unmatched_extensions,omitempty" yaml:"unmatched_extensions,omitempty"`
	Files              []scanner.FileRecord `json:"files" yaml:"files"`
	Errors             int                  `json:"errors" yaml:"errors"`
}

// Scan reports the files of a walk with the category each would go to
func (r *Reporter) Scan(result *scanner.ScanResult, resolver category.Resolver) error {
	categorized := &scanner.ScanResult{Files: make([]scanner.FileRecord, 0, len(result.Files))}
	paths := make([]string, len(result.Files))
	for i, f := range result.Files {
		if cat, ok := resolver.Resolve(f.Path); ok {
			f = f.WithCategory(cat)
		}
		categorized.Add(f)
		paths[i] = f.Path
	}
	files := categorized.Files
	grouped := categorized.GroupByCategory()

	report := scanReport{
		Timestamp:          r.timestamp(),
		TotalFiles:         result.TotalCount,
		TotalSize:          result.TotalSize,
		TotalSizeFormatted: progress.FormatBytes(result.TotalSize),
		Categories:         category.Distribution(resolver, paths, ""),
		Unmatched:          category.SuggestExtensions(resolver, paths, 2),
		Files:              files,
		Errors:             len(result.Errors),
	}
	if done, err := r.encode(report); done {
		return err
	}

	if r.format == FormatTable {
		fmt.Fprintf(r.writer, "%-60s | %-10s | %-12s | %s\n", "Path", "Size", "Category", "Modified")
		fmt.Fprintln(r.writer, rule)
		for _, f := range files {
			fmt.Fprintf(r.writer, "%-60s | %-10s | %-12s | %s\n",
				truncate(f.Path, 60),
				progress.FormatBytes(f.Size),
				f.Category,
				f.ModTime.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintln(r.writer, rule)
	}

	fmt.Fprintf(r.writer, "=== Scan Summary ===\n")
	fmt.Fprintf(r.writer, "Total Files: %d\n", report.TotalFiles)
	fmt.Fprintf(r.writer, "Total Size: %s\n", report.TotalSizeFormatted)
	fmt.Fprintf(r.writer, "\nBreakdown by Category:\n")
	for _, name := range sortedKeys(report.Categories) {
		label := name
		if label == "" {
			label = "(uncategorized)"
		}
		fmt.Fprintf(r.writer, "  %s: %d files (%s)\n", label, report.Categories[name],
			progress.FormatBytes(grouped[name].TotalSize))
	}
	if len(report.Unmatched) > 0 {
		fmt.Fprintf(r.writer, "\nUnmatched extensions: %s\n", strings.Join(report.Unmatched, ", "))
	}
	if report.Errors > 0 {
		fmt.Fprintf(r.writer, "\nErrors: %d\n", report.Errors)
	}
	return nil
}

// =============================================================================
// Duplicates
// =============================================================================

type memberReport struct {
	Path           string    `json:"path" yaml:"path"`
	ModTime        time.Time `json:"mod_time" yaml:"mod_time"`
	Representative bool      `json:"representative" yaml:"representative"`
	LikelyCopy     bool      `json:"likely_copy" yaml:"likely_copy"`
}

type groupReport struct {
	Digest      string         `json:"digest" yaml:"digest"`
	Size        int64          `json:"size" yaml:"size"`
	Reclaimable int64          `json:"reclaimable" yaml:"reclaimable"`
	Verified    bool           `json:"verified" yaml:"verified"`
	Members     []memberReport `json:"members" yaml:"members"`
}

type duplicatesReport struct {
	Timestamp            string        `json:"timestamp" yaml:"timestamp"`
	Groups               []groupReport `json:"groups" yaml:"groups"`
	GroupCount           int           `json:"group_count" yaml:"group_count"`
	DuplicateFiles       int           `json:"duplicate_files" yaml:"duplicate_files"`
	Reclaimable          int64         `json:"reclaimable" yaml:"reclaimable"`
	ReclaimableFormatted string        `json:"reclaimable_formatted" yaml:"reclaimable_formatted"`
	Candidates           int           `json:"candidates" yaml:"candidates"`
	Hashed               int64         `json:"hashed" yaml:"hashed"`
	Errors               []string      `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func newDuplicatesReport(res *duplicates.Result, now string) duplicatesReport {
	report := duplicatesReport{
		Timestamp:  now,
		Groups:     make([]groupReport, 0, len(res.Groups)),
		GroupCount: len(res.Groups),
		Candidates: res.Candidates,
		Hashed:     res.Hashed,
	}
	for _, g := range res.Groups {
		gr := groupReport{
			Digest:      g.Digest.String(),
			Size:        g.Size,
			Reclaimable: g.Reclaimable(),
			Verified:    g.Verified,
		}
		for _, m := range g.Members {
			gr.Members = append(gr.Members, memberReport{
				Path:           m.Path,
				ModTime:        m.ModTime,
				Representative: m.Path == g.Representative,
				LikelyCopy:     category.IsLikelyCopy(filepath.Base(m.Path)),
			})
		}
		report.Groups = append(report.Groups, gr)
		report.DuplicateFiles += len(g.Members) - 1
		report.Reclaimable += gr.Reclaimable
	}
	report.ReclaimableFormatted = progress.FormatBytes(report.Reclaimable)
	if res.Errors != nil {
		for _, e := range res.Errors.Errors {
			report.Errors = append(report.Errors, e.Error())
		}
	}
	return report
}

// Duplicates reports duplicate groups, representative first
func (r *Reporter) Duplicates(res *duplicates.Result) error {
	report := newDuplicatesReport(res, r.timestamp())
	if done, err := r.encode(report); done {
		return err
	}

	if r.format == FormatTable {
		for i, g := range report.Groups {
			state := ""
			if !g.Verified {
				state = " (unverified)"
			}
			fmt.Fprintf(r.writer, "Group %d: %s each, %s reclaimable, %s%s\n",
				i+1, progress.FormatBytes(g.Size), progress.FormatBytes(g.Reclaimable), shortDigest(g.Digest), state)
			for _, m := range g.Members {
				marker := "  "
				if m.Representative {
					marker = "* "
				}
				note := ""
				if m.LikelyCopy {
					note = "  [copy]"
				}
				fmt.Fprintf(r.writer, "  %s%s%s\n", marker, m.Path, note)
			}
			fmt.Fprintln(r.writer)
		}
	}

	fmt.Fprintf(r.writer, "=== Duplicate Summary ===\n")
	fmt.Fprintf(r.writer, "Groups: %d\n", report.GroupCount)
	fmt.Fprintf(r.writer, "Duplicate files: %d\n", report.DuplicateFiles)
	fmt.Fprintf(r.writer, "Reclaimable: %s\n", report.ReclaimableFormatted)
	fmt.Fprintf(r.writer, "Candidates hashed: %d of %d\n", report.Hashed, report.Candidates)
	if res.Errors.Len() > 0 {
		fmt.Fprintf(r.writer, "\n%s", res.Errors.Summary())
	}
	return nil
}

func shortDigest(s string) string {
	return hashing.Short(digest.Digest(s))
}

// =============================================================================
// Transactions
// =============================================================================

type transactionReport struct {
	Timestamp   string                   `json:"timestamp" yaml:"timestamp"`
	Transaction *transaction.Transaction `json:"transaction" yaml:"transaction"`
	Summary     transaction.Summary      `json:"summary" yaml:"summary"`
	DryRun      bool                     `json:"dry_run" yaml:"dry_run"`
}

// Transaction reports the operations of a planned or finished transaction
func (r *Reporter) Transaction(txn *transaction.Transaction, dryRun bool) error {
	report := transactionReport{
		Timestamp:   r.timestamp(),
		Transaction: txn,
		Summary:     txn.Summarize(),
		DryRun:      dryRun,
	}
	if done, err := r.encode(report); done {
		return err
	}

	if r.format == FormatTable {
		fmt.Fprintf(r.writer, "%-11s | %-40s | %s\n", "Status", "Source", "Destination")
		fmt.Fprintln(r.writer, rule)
		for _, op := range txn.Operations {
			fmt.Fprintf(r.writer, "%-11s | %-40s | %s\n", op.Status, truncate(op.Source, 40), op.Destination)
			if op.Reason != "" && op.Status != transaction.StatusExecuted {
				fmt.Fprintf(r.writer, "%-11s   %s\n", "", op.Reason)
			}
		}
		fmt.Fprintln(r.writer, rule)
	}

	s := report.Summary
	title := "Transaction"
	if dryRun {
		title = "Dry Run"
	}
	fmt.Fprintf(r.writer, "=== %s %s ===\n", title, txn.ShortID())
	fmt.Fprintf(r.writer, "State: %s\n", txn.State)
	if dryRun {
		fmt.Fprintf(r.writer, "Would move: %d files\n", s.Planned)
	} else {
		fmt.Fprintf(r.writer, "Moved: %d files, %s\n", s.Executed, progress.FormatBytes(s.BytesMoved))
	}
	fmt.Fprintf(r.writer, "Skipped: %d\n", s.Skipped)
	fmt.Fprintf(r.writer, "Failed: %d\n", s.Failed)
	if s.RolledBack > 0 {
		fmt.Fprintf(r.writer, "Rolled back: %d\n", s.RolledBack)
	}
	if txn.Error != "" {
		fmt.Fprintf(r.writer, "Error: %s\n", txn.Error)
	}
	return nil
}

// History lists archived transactions, newest first
func (r *Reporter) History(txns []*transaction.Transaction) error {
	summaries := make([]transaction.Summary, len(txns))
	for i, t := range txns {
		summaries[i] = t.Summarize()
	}
	report := struct {
		Timestamp    string                `json:"timestamp" yaml:"timestamp"`
		Transactions []transaction.Summary `json:"transactions" yaml:"transactions"`
	}{r.timestamp(), summaries}
	if done, err := r.encode(report); done {
		return err
	}

	if len(txns) == 0 {
		fmt.Fprintln(r.writer, "No transactions recorded")
		return nil
	}
	fmt.Fprintf(r.writer, "%-36s | %-19s | %-16s | %5s | %5s | %s\n", "ID", "Created", "State", "Moved", "Skip", "Failed")
	fmt.Fprintln(r.writer, rule)
	for i, t := range txns {
		s := summaries[i]
		fmt.Fprintf(r.writer, "%-36s | %-19s | %-16s | %5d | %5d | %d\n",
			t.ID, t.CreatedAt.Local().Format("2006-01-02 15:04:05"), t.State,
			s.Executed+s.RolledBack, s.Skipped, s.Failed)
	}
	return nil
}

// =============================================================================
// Cache
// =============================================================================

// CacheStats reports hash cache effectiveness
func (r *Reporter) CacheStats(stats hashcache.Stats, path string) error {
	report := struct {
		Path      string  `json:"path" yaml:"path"`
		Entries   int     `json:"entries" yaml:"entries"`
		StoreSize int64   `json:"store_size" yaml:"store_size"`
		Hits      int64   `json:"hits" yaml:"hits"`
		Misses    int64   `json:"misses" yaml:"misses"`
		Shared    int64   `json:"shared" yaml:"shared"`
		Corrupt   int64   `json:"corrupt" yaml:"corrupt"`
		HitRate   float64 `json:"hit_rate" yaml:"hit_rate"`
	}{path, stats.Entries, stats.StoreSize, stats.Hits, stats.Misses, stats.Shared, stats.Corrupt, stats.HitRate()}
	if done, err := r.encode(report); done {
		return err
	}

	fmt.Fprintf(r.writer, "=== Hash Cache ===\n")
	fmt.Fprintf(r.writer, "Path: %s\n", path)
	fmt.Fprintf(r.writer, "Entries: %d\n", stats.Entries)
	fmt.Fprintf(r.writer, "Store size: %s\n", progress.FormatBytes(stats.StoreSize))
	if lookups := stats.Hits + stats.Misses + stats.Shared; lookups > 0 {
		fmt.Fprintf(r.writer, "Hit rate: %.1f%% (%d hits, %d misses, %d shared)\n",
			stats.HitRate(), stats.Hits, stats.Misses, stats.Shared)
	}
	if stats.Corrupt > 0 {
		fmt.Fprintf(r.writer, "Corrupt entries ignored: %d\n", stats.Corrupt)
	}
	return nil
}

// SaveToFile writes a report produced by fn to path
func SaveToFile(path string, format OutputFormat, fn func(*Reporter) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return fn(New(file, format))
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
