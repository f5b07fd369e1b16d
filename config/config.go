// Package config loads the daemon configuration file and turns it into the
// uid / gid policy and the trusted hook used by the spawn server.
package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration file
type Config struct {
	// DefaultUser names the account children run as when a request carries
	// no uid / gid. It takes precedence over DefaultUid / DefaultGid.
	DefaultUser string  `yaml:"default_user"`
	DefaultUid  *uint32 `yaml:"default_uid"`
	DefaultGid  *uint32 `yaml:"default_gid"`

	// AllowedUids / AllowedGids list the explicit identities a request may
	// ask for. An empty list accepts nothing unless AllowAnyUidGid is set.
	AllowedUids    []uint32 `yaml:"allowed_uids"`
	AllowedGids    []uint32 `yaml:"allowed_gids"`
	AllowAnyUidGid bool     `yaml:"allow_any_uid_gid"`

	// TrustedHookInfo lists HOOK_INFO tags that bypass the allow-lists
	TrustedHookInfo []string `yaml:"trusted_hook_info"`

	Cgroup Cgroup `yaml:"cgroup"`

	LogLevel string `yaml:"log_level"`
}

// Cgroup selects the delegated cgroup children are placed under
type Cgroup struct {
	// Path of an existing delegated cgroup v2 directory
	Path string `yaml:"path"`

	// SystemdScope creates a transient scope with Delegate=yes on startup
	SystemdScope string `yaml:"systemd_scope"`
	SystemdSlice string `yaml:"systemd_slice"`
}

// Load reads the configuration at path, unknown keys are rejected
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}

// Parse decodes a configuration from r, an empty document is the default
// configuration
func Parse(r io.Reader) (*Config, error) {
	c := new(Config)
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.DefaultUser != "" && (c.DefaultUid != nil || c.DefaultGid != nil) {
		return errors.New("default_user conflicts with default_uid / default_gid")
	}
	if (c.DefaultUid == nil) != (c.DefaultGid == nil) {
		return errors.New("default_uid and default_gid must be set together")
	}
	if c.DefaultUid != nil && (*c.DefaultUid == 0 || *c.DefaultGid == 0) {
		return errors.New("default identity must not be root")
	}
	if c.AllowAnyUidGid && (len(c.AllowedUids) > 0 || len(c.AllowedGids) > 0) {
		return errors.New("allow_any_uid_gid conflicts with allowed_uids / allowed_gids")
	}
	if c.Cgroup.Path != "" && c.Cgroup.SystemdScope != "" {
		return errors.New("cgroup.path conflicts with cgroup.systemd_scope")
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return errors.Wrap(err, "log_level")
		}
	}
	return nil
}

// Level returns the configured log level, def if unset
func (c *Config) Level(def logrus.Level) logrus.Level {
	if c.LogLevel == "" {
		return def
	}
	l, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return def
	}
	return l
}
