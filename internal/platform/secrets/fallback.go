package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// localFile serves secrets from a KEY=VALUE file for development machines without
// Secret Manager access. Keys are secret references; a ?version= suffix pins the entry.
type localFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (l *localFile) lookup(ref Reference, version string) (string, bool, error) {
	l.once.Do(l.load)
	if l.err != nil {
		return "", false, l.err
	}
	if v, ok := l.values[versionedKey(ref.Canonical(), version)]; ok {
		return v, true, nil
	}
	v, ok := l.values[ref.Canonical()]
	return v, ok, nil
}

func (l *localFile) load() {
	l.values = map[string]string{}
	if l.path == "" {
		return
	}
	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		l.err = fmt.Errorf("secrets: open %s: %w", l.path, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := splitEntry(line)
		if !ok {
			continue
		}
		ref, err := ParseReference(key)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		if ref.Version == "" {
			l.values[ref.Canonical()] = value
		}
		l.values[versionedKey(ref.Canonical(), ref.versionOr(latestVersion))] = value
	}
	if err := scanner.Err(); err != nil {
		l.err = fmt.Errorf("secrets: read %s: %w", l.path, err)
	}
}

// splitEntry separates key and value. A key with a ?version= query owns the first '='.
func splitEntry(line string) (string, string, bool) {
	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return "", "", false
	}
	if strings.Contains(line[:idx], "?") {
		next := strings.IndexByte(line[idx+1:], '=')
		if next < 0 {
			return "", "", false
		}
		idx += next + 1
	}
	return line[:idx], line[idx+1:], true
}
