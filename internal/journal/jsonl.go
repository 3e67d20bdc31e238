package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// readJSONL reads a JSONL file and returns each non-empty, parseable line as
// a json.RawMessage. Malformed lines are skipped.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotatef(err, "opening %s", path)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			logger.Warningf("skipping malformed line in %s", path)
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Annotatef(err, "scanning %s", path)
	}
	return records, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return errors.Annotate(err, "creating temp file")
	}
	tmpName := tmp.Name()
	fail := func(err error, what string) error {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Annotate(err, what)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail(err, "writing record")
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail(err, "writing newline")
		}
	}
	if err := w.Flush(); err != nil {
		return fail(err, "flushing buffer")
	}
	if err := tmp.Sync(); err != nil {
		return fail(err, "syncing temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Annotate(err, "closing temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Annotate(err, "renaming temp file")
	}
	return nil
}
