package injectors

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/loopwork/beacon/pkg/models"
)

// SkillFilename is the manifest file discovered per skill directory.
const SkillFilename = "SKILL.md"

const frontmatterDelimiter = "---"

// SkillManifest is one discovered skill: YAML frontmatter plus a
// markdown body.
type SkillManifest struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Requires    *SkillRequires `yaml:"requires"`

	// Content is the markdown body below the frontmatter.
	Content string `yaml:"-"`
	// Path is the directory the skill was discovered in.
	Path string `yaml:"-"`
}

// SkillRequires gates a skill on host prerequisites.
type SkillRequires struct {
	// Bins requires every listed binary on PATH.
	Bins []string `yaml:"bins"`
	// AnyBins requires at least one of the listed binaries.
	AnyBins []string `yaml:"anyBins"`
}

// ParseSkill parses SKILL.md content.
func ParseSkill(data []byte, dir string) (*SkillManifest, error) {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	var m SkillManifest
	if err := yaml.Unmarshal(frontmatter, &m); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("skill name is required")
	}
	if m.Description == "" {
		return nil, fmt.Errorf("skill description is required")
	}

	m.Content = strings.TrimSpace(string(body))
	m.Path = dir
	return &m, nil
}

func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var frontmatter []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		frontmatter = append(frontmatter, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var body []string
	for scanner.Scan() {
		body = append(body, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return []byte(strings.Join(frontmatter, "\n")), []byte(strings.Join(body, "\n")), nil
}

// Skills discovers skill manifests under the configured directories and
// contributes the eligible ones to the system prompt. Discovery results
// are cached; a directory watcher invalidates the cache on change.
type Skills struct {
	dirs     []string
	logger   *slog.Logger
	lookPath func(string) (string, error)

	mu       sync.Mutex
	cached   []*SkillManifest
	valid    bool
	pathBins map[string]bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// SkillsOption customises the skills injector.
type SkillsOption func(*Skills)

// WithLookPath overrides binary resolution, for tests.
func WithLookPath(fn func(string) (string, error)) SkillsOption {
	return func(s *Skills) { s.lookPath = fn }
}

// NewSkills creates a skills injector over the given directories.
func NewSkills(dirs []string, logger *slog.Logger, opts ...SkillsOption) *Skills {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Skills{
		dirs:     dirs,
		logger:   logger.With("component", "skills"),
		lookPath: exec.LookPath,
		pathBins: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Injector.
func (s *Skills) Name() string { return "skills" }

// InjectSystemContext implements Injector.
func (s *Skills) InjectSystemContext(_ context.Context, _ Context) (string, error) {
	eligible := s.Eligible()
	if len(eligible) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("## Available skills\n")
	for _, m := range eligible {
		fmt.Fprintf(&b, "- %s: %s\n", m.Name, m.Description)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// InjectResumeContext implements Injector.
func (s *Skills) InjectResumeContext(context.Context, Context) ([]models.CheckpointMessage, error) {
	return nil, nil
}

// Eligible returns the discovered skills whose binary prerequisites are
// satisfied on this host, sorted by name.
func (s *Skills) Eligible() []*SkillManifest {
	all := s.discover()
	var out []*SkillManifest
	for _, m := range all {
		if s.eligible(m) {
			out = append(out, m)
		}
	}
	return out
}

// Invalidate drops the discovery cache; the next read re-scans.
func (s *Skills) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.pathBins = make(map[string]bool)
	s.mu.Unlock()
}

// Watch starts a directory watcher that invalidates the cache when any
// skill directory changes. Close stops it.
func (s *Skills) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range s.dirs {
		if err := watcher.Add(dir); err != nil {
			s.logger.Warn("cannot watch skill directory", "dir", dir, "error", err)
		}
	}

	s.mu.Lock()
	s.watcher = watcher
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					s.logger.Debug("skill directory changed", "path", ev.Name)
					s.Invalidate()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("skill watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher, if running.
func (s *Skills) Close() error {
	s.mu.Lock()
	watcher := s.watcher
	done := s.done
	s.watcher = nil
	s.done = nil
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	if watcher != nil {
		return watcher.Close()
	}
	return nil
}

func (s *Skills) discover() []*SkillManifest {
	s.mu.Lock()
	if s.valid {
		cached := s.cached
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	var found []*SkillManifest
	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name(), SkillFilename)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			m, err := ParseSkill(data, filepath.Dir(path))
			if err != nil {
				s.logger.Warn("skipping invalid skill", "path", path, "error", err)
				continue
			}
			found = append(found, m)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })

	s.mu.Lock()
	s.cached = found
	s.valid = true
	s.mu.Unlock()
	return found
}

func (s *Skills) eligible(m *SkillManifest) bool {
	if m.Requires == nil {
		return true
	}
	for _, bin := range m.Requires.Bins {
		if !s.checkBinary(bin) {
			return false
		}
	}
	if len(m.Requires.AnyBins) > 0 {
		found := false
		for _, bin := range m.Requires.AnyBins {
			if s.checkBinary(bin) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Skills) checkBinary(name string) bool {
	s.mu.Lock()
	if result, ok := s.pathBins[name]; ok {
		s.mu.Unlock()
		return result
	}
	s.mu.Unlock()

	_, err := s.lookPath(name)
	result := err == nil

	s.mu.Lock()
	s.pathBins[name] = result
	s.mu.Unlock()
	return result
}
