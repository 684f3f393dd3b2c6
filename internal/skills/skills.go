// Package skills discovers skill declarations from a directory of markdown
// files, each with a TOML front-matter header (name/description) and a
// markdown body that becomes the skill's system-prompt fragment while
// active. Supplements spec §1's "skill-markdown discovery" mention, which
// the original spec left unspecified; grounded on the retrieval pack's
// directory-watched plugin-discovery pattern (kadirpekel-hector), adapted
// from Go-plugin files to markdown skill files.
package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// Skill is one discovered skill declaration.
type Skill struct {
	Name        string
	Description string
	Declaration string // markdown body, injected into the system prompt while active
}

type frontMatter struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// Catalog holds the current set of discovered skills, refreshed as files
// are added/removed/edited under Root.
type Catalog struct {
	Root string

	mu     sync.RWMutex
	skills map[string]Skill

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewCatalog loads every *.md file under root and starts an fsnotify
// watcher that keeps the catalog current.
func NewCatalog(root string) (*Catalog, error) {
	c := &Catalog{Root: root, skills: make(map[string]Skill)}
	if err := c.reload(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(root); os.IsNotExist(err) {
		// No skills directory yet; the catalog stays empty until the
		// process is restarted with one present.
		return c, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("skills: new watcher: %w", err)
	}
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("skills: watch root: %w", err)
	}
	c.watcher = watcher
	c.done = make(chan struct{})
	go c.watchLoop()
	return c, nil
}

func (c *Catalog) watchLoop() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".md" {
				continue
			}
			if err := c.reload(); err != nil {
				slog.Error("skills: reload after fs event failed", "error", err, "event", event.String())
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("skills: watcher error", "error", err)
		}
	}
}

func (c *Catalog) reload() error {
	entries, err := os.ReadDir(c.Root)
	if err != nil {
		if os.IsNotExist(err) {
			c.mu.Lock()
			c.skills = map[string]Skill{}
			c.mu.Unlock()
			return nil
		}
		return fmt.Errorf("skills: read root: %w", err)
	}

	next := make(map[string]Skill)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		sk, err := parseSkillFile(filepath.Join(c.Root, e.Name()))
		if err != nil {
			slog.Warn("skills: skipping unparsable file", "file", e.Name(), "error", err)
			continue
		}
		next[sk.Name] = sk
	}

	c.mu.Lock()
	c.skills = next
	c.mu.Unlock()
	return nil
}

func parseSkillFile(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}
	content := string(data)

	const delim = "+++"
	if !strings.HasPrefix(content, delim) {
		return Skill{}, fmt.Errorf("missing TOML front matter")
	}
	rest := content[len(delim):]
	end := strings.Index(rest, delim)
	if end < 0 {
		return Skill{}, fmt.Errorf("unterminated TOML front matter")
	}
	header := rest[:end]
	body := strings.TrimSpace(rest[end+len(delim):])

	var fm frontMatter
	if _, err := toml.Decode(header, &fm); err != nil {
		return Skill{}, fmt.Errorf("decode front matter: %w", err)
	}
	if fm.Name == "" {
		return Skill{}, fmt.Errorf("missing name")
	}
	return Skill{Name: fm.Name, Description: fm.Description, Declaration: body}, nil
}

// Get returns the skill by name and whether it exists.
func (c *Catalog) Get(name string) (Skill, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sk, ok := c.skills[name]
	return sk, ok
}

// List returns every known skill in map iteration order; the order is not
// stable between calls.
func (c *Catalog) List() []Skill {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Skill, 0, len(c.skills))
	for _, sk := range c.skills {
		out = append(out, sk)
	}
	return out
}

// Close stops the watcher goroutine.
func (c *Catalog) Close() error {
	if c.watcher == nil {
		return nil
	}
	close(c.done)
	return c.watcher.Close()
}
