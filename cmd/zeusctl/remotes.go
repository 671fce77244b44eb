package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/grnet/panoramix/internal/config"
)

// RemotesConfig holds all named remotes and tracks which one is active.
type RemotesConfig struct {
	Active  string            `toml:"active"`
	Remotes map[string]Remote `toml:"remotes"`
}

// Remote is a named backend profile.
type Remote struct {
	URL     string   `toml:"url"`
	Token   string   `toml:"token,omitempty"`
	NATSURL string   `toml:"nats_url,omitempty"`
	Users   []string `toml:"users,omitempty"`
}

// validate checks that r points at an HTTP backend and that its users can be
// used as URL path segments, and trims the user names.
func (r *Remote) validate() error {
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("remote url %q: want http(s)://host", r.URL)
	}
	users := make([]string, 0, len(r.Users))
	for _, name := range r.Users {
		name = strings.TrimSpace(name)
		switch {
		case name == "":
			return fmt.Errorf("remote users: empty user name")
		case strings.ContainsAny(name, "/?#"):
			return fmt.Errorf("remote users: %q is not a valid path segment", name)
		case slices.Contains(users, name):
			return fmt.Errorf("remote users: %q listed twice", name)
		}
		users = append(users, name)
	}
	r.Users = users
	return nil
}

// sessionUsers picks the negotiating users of a session: ZEUS_USERS when set,
// else the active remote's.
func sessionUsers(env *config.Config, active Remote) []string {
	if env != nil && len(env.Users) > 0 {
		return env.Users
	}
	return active.Users
}

func remoteConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local", "state", "zeus")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "remotes.toml"), nil
}

func loadRemotesConfig() (RemotesConfig, error) {
	path, err := remoteConfigPath()
	if err != nil {
		return RemotesConfig{}, err
	}
	var cfg RemotesConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return RemotesConfig{Remotes: map[string]Remote{}}, nil
		}
		return RemotesConfig{}, err
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]Remote{}
	}
	return cfg, nil
}

func saveRemotesConfig(cfg RemotesConfig) error {
	path, err := remoteConfigPath()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Active remote, loaded once per process.
var (
	remoteOnce   sync.Once
	activeRemote Remote
)

func loadActiveRemoteOnce() {
	remoteOnce.Do(func() {
		cfg, err := loadRemotesConfig()
		if err != nil || cfg.Active == "" {
			return
		}
		activeRemote = cfg.Remotes[cfg.Active]
	})
}

func activeRemoteURL() string {
	loadActiveRemoteOnce()
	return activeRemote.URL
}

func activeRemoteToken() string {
	loadActiveRemoteOnce()
	return activeRemote.Token
}

func activeRemoteNATSURL() string {
	loadActiveRemoteOnce()
	return activeRemote.NATSURL
}
