package result

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	trialsFile  = "trials.jsonl"
	summaryFile = "summary.json"

	maxRunDirAttempts = 100
)

// CreateRunDir creates a timestamped directory for this run's artifacts.
// Runs started within the same second get a numeric suffix, so no two runs
// share a directory.
func CreateRunDir(baseDir string) (string, error) {
	runsDir, err := filepath.Abs(filepath.Join(baseDir, "runs"))
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	for i := 1; i <= maxRunDirAttempts; i++ {
		name := stamp
		if i > 1 {
			name = fmt.Sprintf("%s-%d", stamp, i)
		}
		runDir := filepath.Join(runsDir, name)
		err := os.Mkdir(runDir, 0o755)
		if err == nil {
			return runDir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("creating run dir: %w", err)
		}
	}
	return "", fmt.Errorf("creating run dir: %d runs already started at %s", maxRunDirAttempts, stamp)
}

// RecordSink appends one JSON line per trial to the run directory.
type RecordSink struct {
	f *os.File
}

// OpenRecordSink creates trials.jsonl. It fails if the file already exists.
func OpenRecordSink(runDir string) (*RecordSink, error) {
	f, err := os.OpenFile(filepath.Join(runDir, trialsFile), os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening trial records: %w", err)
	}
	return &RecordSink{f: f}, nil
}

func (s *RecordSink) Append(rec *TrialRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling trial %d: %w", rec.Trial, err)
	}
	data = append(data, '\n')
	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("writing trial %d: %w", rec.Trial, err)
	}
	return nil
}

func (s *RecordSink) Close() error {
	return s.f.Close()
}

// ErrTruncatedRecords is returned by ReadTrialRecords when the last line of
// trials.jsonl is incomplete, as left by an interrupted write.
var ErrTruncatedRecords = errors.New("trial records truncated")

// ReadTrialRecords loads every record from a run directory in file order.
// A malformed line fails the read with its line number. An incomplete final
// line returns the records before it together with ErrTruncatedRecords.
func ReadTrialRecords(runDir string) ([]TrialRecord, error) {
	f, err := os.Open(filepath.Join(runDir, trialsFile))
	if err != nil {
		return nil, fmt.Errorf("reading trial records: %w", err)
	}
	defer f.Close()

	var (
		records []TrialRecord
		bad     error
		lineNo  int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if bad != nil {
			return nil, bad
		}
		var rec TrialRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			bad = fmt.Errorf("%s line %d: %w", trialsFile, lineNo, err)
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning trial records: %w", err)
	}
	if bad != nil {
		return records, fmt.Errorf("%w: %w", ErrTruncatedRecords, bad)
	}
	return records, nil
}

func WriteSummary(runDir string, s *Summary) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	return os.WriteFile(filepath.Join(runDir, summaryFile), data, 0o644)
}

func ReadSummary(runDir string) (*Summary, error) {
	data, err := os.ReadFile(filepath.Join(runDir, summaryFile))
	if err != nil {
		return nil, fmt.Errorf("reading summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing summary: %w", err)
	}
	return &s, nil
}
