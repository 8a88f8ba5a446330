package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/batalabs/qoze/internal/tools"
)

// Skill is a prompt-injection bundle loaded from a SKILL.md file.
type Skill struct {
	Name        string
	Description string
	Content     string
	Path        string
	Tier        string // "project" or "user"
}

// Tier names, in shadowing order. A project skill with the same name as
// a user skill wins.
const (
	TierProject = "project"
	TierUser    = "user"
)

// Manager discovers skills under the user and project skill directories
// and tracks which ones are active in the current session. Activation is
// session-scoped: it never touches disk.
type Manager struct {
	mu         sync.RWMutex
	userDir    string
	projectDir string
	skills     map[string]Skill
	active     []string // activation order
	watcher    *fsnotify.Watcher
	done       chan struct{}
	log        *logrus.Logger
}

// NewManager builds a manager over the given skill directories and runs
// an initial discovery pass. Missing directories are fine.
func NewManager(userDir, projectDir string, log *logrus.Logger) *Manager {
	m := &Manager{
		userDir:    userDir,
		projectDir: projectDir,
		skills:     make(map[string]Skill),
		log:        log,
	}
	m.Refresh()
	return m
}

// Refresh rescans the skill directories. Active skills that disappeared
// from disk are deactivated.
func (m *Manager) Refresh() {
	found := make(map[string]Skill)
	// User tier first so project skills shadow by overwriting.
	for _, src := range []struct{ dir, tier string }{
		{m.userDir, TierUser},
		{m.projectDir, TierProject},
	} {
		if src.dir == "" {
			continue
		}
		for _, s := range discoverSkills(src.dir, src.tier, m.log) {
			found[s.Name] = s
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.skills = found

	var active []string
	for _, name := range m.active {
		if _, ok := found[name]; ok {
			active = append(active, name)
		}
	}
	m.active = active
}

// discoverSkills loads every <dir>/<name>/SKILL.md under a tier root.
func discoverSkills(dir, tier string, log *logrus.Logger) []Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []Skill
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name(), "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		s := parseSkillFile(string(data), e.Name())
		s.Path = path
		s.Tier = tier
		out = append(out, s)
		if log != nil {
			log.WithFields(logrus.Fields{"skill": s.Name, "tier": tier}).Debug("skill discovered")
		}
	}
	return out
}

type skillFrontMatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// parseSkillFile splits YAML front matter from the skill body. Parsing is
// best-effort: a missing or broken front matter block falls back to the
// directory name with the full file as content.
func parseSkillFile(content, dirName string) Skill {
	s := Skill{Name: dirName, Content: strings.TrimSpace(content)}

	if !strings.HasPrefix(content, "---\n") && content != "---" {
		return s
	}
	parts := strings.SplitN(content, "---\n", 3)
	if len(parts) < 3 {
		return s
	}

	var fm skillFrontMatter
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil {
		return s
	}
	if fm.Name != "" {
		s.Name = fm.Name
	}
	s.Description = fm.Description
	s.Content = strings.TrimSpace(parts[2])
	return s
}

// List returns all discovered skills sorted by name.
func (m *Manager) List() []Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Skill, 0, len(m.skills))
	for _, s := range m.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get looks up a skill by name.
func (m *Manager) Get(name string) (Skill, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.skills[name]
	return s, ok
}

// Describe returns the skill list in the tool layer's shape.
func (m *Manager) Describe() []tools.SkillBrief {
	m.mu.RLock()
	defer m.mu.RUnlock()

	activeSet := make(map[string]bool, len(m.active))
	for _, name := range m.active {
		activeSet[name] = true
	}

	briefs := make([]tools.SkillBrief, 0, len(m.skills))
	for _, s := range m.skills {
		briefs = append(briefs, tools.SkillBrief{
			Name:        s.Name,
			Description: s.Description,
			Active:      activeSet[s.Name],
		})
	}
	sort.Slice(briefs, func(i, j int) bool { return briefs[i].Name < briefs[j].Name })
	return briefs
}

// Activate marks a skill active and returns its content. Activating an
// already active skill is a no-op that still returns the content.
func (m *Manager) Activate(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.skills[name]
	if !ok {
		return "", false
	}
	for _, a := range m.active {
		if a == name {
			return s.Content, true
		}
	}
	m.active = append(m.active, name)
	return s.Content, true
}

// Deactivate removes a skill from the active set.
func (m *Manager) Deactivate(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, a := range m.active {
		if a == name {
			m.active = append(m.active[:i], m.active[i+1:]...)
			return true
		}
	}
	return false
}

// Active returns the names of active skills in activation order.
func (m *Manager) Active() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.active...)
}

// ActiveContent renders the active skills as a system prompt section.
// Empty when nothing is active.
func (m *Manager) ActiveContent() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var parts []string
	for _, name := range m.active {
		s, ok := m.skills[name]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("## Active Skill: %s\n\n%s", s.Name, s.Content))
	}
	return strings.Join(parts, "\n\n")
}

// Watch starts an fsnotify watcher over the skill directories and
// refreshes the catalog when anything under them changes. Call Close to
// stop it.
func (m *Manager) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	if watchSkillDirs(watcher, m.userDir, m.projectDir) == 0 {
		watcher.Close()
		return nil
	}

	m.mu.Lock()
	m.watcher = watcher
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					m.Refresh()
					watchSkillDirs(watcher, m.userDir, m.projectDir)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if m.log != nil {
					m.log.WithError(err).Warn("skill watcher error")
				}
			}
		}
	}()
	return nil
}

// watchSkillDirs registers the tier roots and their immediate skill
// directories. fsnotify does not recurse, and SKILL.md edits happen one
// level below the roots. Re-adding an already watched path is a no-op.
func watchSkillDirs(watcher *fsnotify.Watcher, roots ...string) int {
	watched := 0
	for _, dir := range roots {
		if dir == "" {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			continue
		}
		watched++
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				if err := watcher.Add(filepath.Join(dir, e.Name())); err == nil {
					watched++
				}
			}
		}
	}
	return watched
}

// Close stops the directory watcher, if running.
func (m *Manager) Close() {
	m.mu.Lock()
	watcher := m.watcher
	done := m.done
	m.watcher = nil
	m.done = nil
	m.mu.Unlock()

	if watcher != nil {
		watcher.Close()
		<-done
	}
}
