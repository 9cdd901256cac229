package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/m4xw311/mars/errors"
)

const (
	dirName         = ".mars"
	chatsDir        = "chats"
	backupsDir      = "backups"
	preferencesFile = "config.json"
)

// InTestMode reports whether APP_MODE=test is set.
func InTestMode() bool {
	return os.Getenv("APP_MODE") == "test"
}

// HomeDir is the directory holding .mars. In test mode it is
// ./tests/storage so tests never touch the real home directory.
func HomeDir() (string, error) {
	if InTestMode() {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrapf(err, "could not get working directory")
		}
		return filepath.Join(wd, "tests", "storage"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrapf(err, "could not get user home directory")
	}
	return home, nil
}

// Store reads and writes everything under <home>/.mars.
type Store struct {
	dir string
}

func NewStore() (*Store, error) {
	home, err := HomeDir()
	if err != nil {
		return nil, err
	}
	return NewStoreAt(home), nil
}

// NewStoreAt roots the store at <home>/.mars.
func NewStoreAt(home string) *Store {
	return &Store{dir: filepath.Join(home, dirName)}
}

func (s *Store) Dir() string { return s.dir }

// Initialize creates the directory layout and default preferences.
func (s *Store) Initialize() error {
	for _, d := range []string{chatsDir, backupsDir} {
		if err := os.MkdirAll(filepath.Join(s.dir, d), 0755); err != nil {
			return errors.Wrapf(err, "could not create %s directory", d)
		}
	}
	if _, err := os.Stat(s.preferencesPath()); os.IsNotExist(err) {
		return s.SavePreferences(DefaultPreferences())
	}
	return nil
}

// HasPreferences reports whether a preferences file has been written.
func (s *Store) HasPreferences() bool {
	_, err := os.Stat(s.preferencesPath())
	return err == nil
}

func (s *Store) preferencesPath() string {
	return filepath.Join(s.dir, preferencesFile)
}

// LoadPreferences never fails: a missing or corrupt file yields defaults.
func (s *Store) LoadPreferences() Preferences {
	data, err := os.ReadFile(s.preferencesPath())
	if err != nil {
		return DefaultPreferences()
	}
	var p Preferences
	if err := json.Unmarshal(data, &p); err != nil {
		return DefaultPreferences()
	}
	return p
}

func (s *Store) SavePreferences(p Preferences) error {
	return writeJSON(s.preferencesPath(), p)
}

func (s *Store) chatPath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", errors.New("invalid chat id %q", id)
	}
	return filepath.Join(s.dir, chatsDir, id+".json"), nil
}

func (s *Store) SaveChat(c *Chat) error {
	p, err := s.chatPath(c.ID)
	if err != nil {
		return err
	}
	c.UpdatedAt = time.Now()
	return writeJSON(p, c)
}

func (s *Store) LoadChat(id string) (*Chat, error) {
	p, err := s.chatPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read chat %s", id)
	}
	var c Chat
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "could not parse chat %s", id)
	}
	return &c, nil
}

// ChatSummary is a chat without its transcript.
type ChatSummary struct {
	ID        string
	Title     string
	UpdatedAt time.Time
}

// ListChats returns saved chats, most recently updated first. Files that
// fail to parse are skipped.
func (s *Store) ListChats() ([]ChatSummary, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, chatsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "could not list chats")
	}
	var out []ChatSummary
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok {
			continue
		}
		c, err := s.LoadChat(id)
		if err != nil {
			continue
		}
		out = append(out, ChatSummary{ID: c.ID, Title: c.Title, UpdatedAt: c.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// BackupChat copies a saved chat into backups/ under a timestamped name
// and returns the backup path.
func (s *Store) BackupChat(id string) (string, error) {
	src, err := s.chatPath(id)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", errors.Wrapf(err, "could not read chat %s", id)
	}
	dst := filepath.Join(s.dir, backupsDir, id+"-"+time.Now().UTC().Format("20060102T150405.000000000")+".json")
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", errors.Wrapf(err, "could not create backups directory")
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", errors.Wrapf(err, "could not write backup")
	}
	return dst, nil
}

// Cleanup removes the whole store. It refuses to run outside test mode.
func (s *Store) Cleanup() error {
	if !InTestMode() {
		return errors.ErrNotTestMode
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return errors.Wrapf(err, "could not remove %s", s.dir)
	}
	return nil
}

// writeJSON replaces path atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize %s", filepath.Base(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "could not create %s", filepath.Dir(path))
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "could not create temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "could not write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "could not write %s", path)
	}
	return os.Rename(tmp.Name(), path)
}
