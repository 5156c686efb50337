package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

var fileRe = regexp.MustCompile(`^(\d{4})_([a-z0-9_]+)\.yaml$`)

// Migration is a numbered list of operations.
type Migration struct {
	Number int    `yaml:"-"`
	Name   string `yaml:"name"`
	Ops    []Op   `yaml:"operations"`
}

// ID returns the migration identifier, e.g. "0002_add_slug_index".
func (m Migration) ID() string {
	return fmt.Sprintf("%04d_%s", m.Number, m.Name)
}

// FileName returns the file the migration is stored in.
func (m Migration) FileName() string {
	return m.ID() + ".yaml"
}

// LoadDir reads every migration file in dir ordered by number. A missing
// directory holds no migrations.
func LoadDir(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var migs []Migration
	seen := map[int]string{}
	for _, e := range entries {
		match := fileRe.FindStringSubmatch(e.Name())
		if e.IsDir() || match == nil {
			continue
		}
		num, _ := strconv.Atoi(match[1])
		if prev, dup := seen[num]; dup {
			return nil, fmt.Errorf("migrations %s and %s share number %04d", prev, e.Name(), num)
		}
		seen[num] = e.Name()

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		m := Migration{}
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		m.Number, m.Name = num, match[2]
		for i, op := range m.Ops {
			if err := op.Validate(); err != nil {
				return nil, fmt.Errorf("%s operation %d: %w", e.Name(), i, err)
			}
		}
		migs = append(migs, m)
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Number < migs[j].Number })
	return migs, nil
}

// Write stores m in dir and returns the file path.
func Write(dir string, m Migration) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create migrations dir: %w", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal migration: %w", err)
	}
	path := filepath.Join(dir, m.FileName())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write migration: %w", err)
	}
	return path, nil
}

// Next returns the number following the last of migs.
func Next(migs []Migration) int {
	if len(migs) == 0 {
		return 1
	}
	return migs[len(migs)-1].Number + 1
}
