package gather

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

const progressFile = ".gather-progress.yaml"

// progress remembers the last session a download completed for and which
// symbols returned nothing since then, so an interrupted run resumes and a
// finished one is not repeated on the same day.
type progress struct {
	path      string
	Completed string   `yaml:"completed"`
	Empty     []string `yaml:"empty"`
	empty     map[string]bool
}

// loadProgress reads the progress file in dir. A missing file, or an empty
// dir, yields fresh progress; an empty dir also disables saving.
func loadProgress(dir string) (*progress, error) {
	p := &progress{empty: make(map[string]bool)}
	if dir == "" {
		return p, nil
	}
	p.path = filepath.Join(dir, progressFile)
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading progress: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p.path, err)
	}
	for _, s := range p.Empty {
		p.empty[s] = true
	}
	return p, nil
}

// begin starts a pass for session. Empty marks from an earlier session are
// dropped since those symbols may have traded since.
func (p *progress) begin(session string) {
	if p.Completed != "" && p.Completed != session {
		p.empty = make(map[string]bool)
	}
}

func (p *progress) done(session string) bool { return p.Completed == session }

func (p *progress) isEmpty(symbol string) bool { return p.empty[symbol] }

func (p *progress) markEmpty(symbols ...string) {
	for _, s := range symbols {
		p.empty[s] = true
	}
}

func (p *progress) complete(session string) { p.Completed = session }

func (p *progress) save() error {
	if p.path == "" {
		return nil
	}
	p.Empty = p.Empty[:0]
	for s := range p.empty {
		p.Empty = append(p.Empty, s)
	}
	sort.Strings(p.Empty)
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing progress: %w", err)
	}
	return os.Rename(tmp, p.path)
}
