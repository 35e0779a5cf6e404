package transaction

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	walExt     = ".wal"
	archiveExt = ".json"
)

// RecordType tags a journal record
type RecordType string

const (
	RecordBegin   RecordType = "begin"
	RecordMkdir   RecordType = "mkdir"
	RecordMove    RecordType = "move"
	RecordDone    RecordType = "done"
	RecordRestore RecordType = "restore"
	RecordEnd     RecordType = "end"
)

// Record is one line of a write-ahead log
type Record struct {
	Type        RecordType `json:"type"`
	Time        time.Time  `json:"time"`
	Transaction string     `json:"transaction,omitempty"`
	Source      string     `json:"source,omitempty"`
	Destination string     `json:"destination,omitempty"`
	Size        int64      `json:"size,omitempty"`
	ModTime     time.Time  `json:"mod_time,omitempty"`
	State       State      `json:"state,omitempty"`
}

// Journal stores write-ahead logs of running commits and archives of
// finished transactions. A transaction with a log but no archive was
// interrupted.
type Journal struct {
	dir string
}

// OpenJournal creates the journal directory if needed
func OpenJournal(dir string) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("journal directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &Journal{dir: dir}, nil
}

// Dir returns the journal directory
func (j *Journal) Dir() string {
	return j.dir
}

func (j *Journal) walPath(id string) string     { return filepath.Join(j.dir, id+walExt) }
func (j *Journal) archivePath(id string) string { return filepath.Join(j.dir, id+archiveExt) }

// WAL is an append-only log; every record is synced before Append returns
type WAL struct {
	f  *os.File
	id string
}

// Begin opens the log for txn. An existing log for the same id is
// appended to, so an undo extends the commit's history.
func (j *Journal) Begin(txn *Transaction) (*WAL, error) {
	f, err := os.OpenFile(j.walPath(txn.ID), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	w := &WAL{f: f, id: txn.ID}
	if err := w.Append(Record{Type: RecordBegin, State: txn.State, Destination: txn.DestRoot}); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Append writes rec and fsyncs the log
func (w *WAL) Append(rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	rec.Transaction = w.id
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode journal record: %w", err)
	}
	if _, err := w.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write journal record: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// Close closes the log file
func (w *WAL) Close() error {
	return w.f.Close()
}

// Archive writes the final state of txn and removes its log
func (j *Journal) Archive(txn *Transaction) error {
	data, err := json.MarshalIndent(txn, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	tmp, err := os.CreateTemp(j.dir, txn.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write transaction archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write transaction archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync transaction archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write transaction archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.archivePath(txn.ID)); err != nil {
		return fmt.Errorf("failed to write transaction archive: %w", err)
	}

	if err := os.Remove(j.walPath(txn.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove journal log: %w", err)
	}
	return nil
}

// Load reads an archived transaction by id or unique id prefix
func (j *Journal) Load(id string) (*Transaction, error) {
	full, err := j.resolve(id, archiveExt)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(j.archivePath(full))
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction %s: %w", full, err)
	}

	var txn Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction %s: %w", full, err)
	}
	return &txn, nil
}

// List returns archived transactions, newest first. Unreadable archives
// are skipped.
func (j *Journal) List() ([]*Transaction, error) {
	ids, err := j.ids(archiveExt)
	if err != nil {
		return nil, err
	}

	var txns []*Transaction
	for _, id := range ids {
		txn, err := j.Load(id)
		if err != nil {
			continue
		}
		txns = append(txns, txn)
	}

	sort.SliceStable(txns, func(a, b int) bool {
		return txns[a].CreatedAt.After(txns[b].CreatedAt)
	})
	return txns, nil
}

// Prune deletes archived transactions that finished before cutoff,
// together with any log left beside them, and returns their ids.
// Interrupted transactions are kept.
func (j *Journal) Prune(cutoff time.Time) ([]string, error) {
	txns, err := j.List()
	if err != nil {
		return nil, err
	}

	var pruned []string
	for _, txn := range txns {
		finished := txn.CompletedAt
		if finished.IsZero() {
			finished = txn.CreatedAt
		}
		if !finished.Before(cutoff) {
			continue
		}
		if err := os.Remove(j.archivePath(txn.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return pruned, fmt.Errorf("failed to remove transaction archive: %w", err)
		}
		if err := os.Remove(j.walPath(txn.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return pruned, fmt.Errorf("failed to remove journal log: %w", err)
		}
		pruned = append(pruned, txn.ID)
	}
	return pruned, nil
}

// Interrupted returns ids of transactions that have a log but no archive
func (j *Journal) Interrupted() ([]string, error) {
	logs, err := j.ids(walExt)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range logs {
		if _, err := os.Stat(j.archivePath(id)); errors.Is(err, os.ErrNotExist) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Replay reads the log of an interrupted transaction. A torn final line is
// ignored.
func (j *Journal) Replay(id string) ([]Record, error) {
	full, err := j.resolve(id, walExt)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(j.walPath(full))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			break
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("failed to read journal: %w", err)
	}
	return records, nil
}

// Reconstruct rebuilds a transaction from its log. Moves with a done
// record are Executed; a move without one is checked on disk.
func (j *Journal) Reconstruct(id string, fsys FS) (*Transaction, error) {
	records, err := j.Replay(id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 || records[0].Type != RecordBegin {
		return nil, fmt.Errorf("journal for %s has no begin record", id)
	}

	txn := &Transaction{
		ID:        records[0].Transaction,
		CreatedAt: records[0].Time,
		State:     StateCommitting,
		DestRoot:  records[0].Destination,
	}
	pending := make(map[string]*Operation)
	for _, rec := range records[1:] {
		switch rec.Type {
		case RecordMkdir:
			txn.CreatedDirs = append(txn.CreatedDirs, rec.Destination)
		case RecordMove:
			op := &Operation{
				Source:      rec.Source,
				Destination: rec.Destination,
				Status:      StatusPlanned,
				Size:        rec.Size,
				ModTime:     rec.ModTime,
			}
			txn.Operations = append(txn.Operations, op)
			pending[rec.Destination] = op
		case RecordDone:
			if op := pending[rec.Destination]; op != nil {
				op.Status = StatusExecuted
			}
		case RecordRestore:
			if op := pending[rec.Destination]; op != nil {
				op.Status = StatusRolledBack
			}
		}
	}

	// The crash may have landed between the rename and its done record.
	for _, op := range txn.Operations {
		if op.Status != StatusPlanned {
			continue
		}
		atDest, err := exists(fsys, op.Destination)
		if err != nil {
			return nil, err
		}
		atSource, err := exists(fsys, op.Source)
		if err != nil {
			return nil, err
		}
		if atDest && !atSource {
			op.Status = StatusExecuted
		}
	}
	return txn, nil
}

func (j *Journal) ids(ext string) ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ext))
	}
	return ids, nil
}

func (j *Journal) resolve(prefix, ext string) (string, error) {
	if prefix == "" {
		return "", ErrNotFound
	}
	ids, err := j.ids(ext)
	if err != nil {
		return "", err
	}
	var match string
	for _, id := range ids {
		if id == prefix {
			return id, nil
		}
		if strings.HasPrefix(id, prefix) {
			if match != "" {
				return "", fmt.Errorf("%w: %s", ErrAmbiguousID, prefix)
			}
			match = id
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	}
	return match, nil
}
