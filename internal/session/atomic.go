package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// writeJSONAtomic writes v as pretty-printed JSON to target using the
// write-temp-then-rename algorithm of: a concurrent reader
// observes either the previous complete file or the next one, never a
// torn write.
func writeJSONAtomic(target string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(target), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", target, err)
	}
	tmp := fmt.Sprintf("%s.%s", target, uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, target, err)
	}
	return nil
}

// readJSON reads and unmarshals target into v. Missing files yield
// (false, nil): requires read operations to return a nullable
// result on ENOENT rather than an error.
func readJSON(target string, v interface{}) (bool, error) {
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", target, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", target, err)
	}
	return true, nil
}

// appendJSONL appends one compact JSON record followed by '\n' to target:
// the single-shot append decisions/thinking/actions/messages logs require.
func appendJSONL(target string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(target), err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", target, err)
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", target, err)
	}
	defer f.Close()
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append %s: %w", target, err)
	}
	return nil
}

// tailJSONL returns the last `limit` successfully parsed records from
// target, in original order. Lines that fail to parse are skipped (logged
// by the caller), never aborting the read. limit <= 0 means "all records".
func tailJSONL[T any](target string, limit int, onWarn func(line string, err error)) ([]T, error) {
	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", target, err)
	}
	defer f.Close()

	var all []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			if onWarn != nil {
				onWarn(line, err)
			}
			continue
		}
		all = append(all, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", target, err)
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}
