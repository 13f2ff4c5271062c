package config

import (
	"os"
	"regexp"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

const DefaultFuzz = 300
const DefaultCacheDirName = ".cvsps"
const DefaultDiffCommand = "rcsdiff -u -r%s -r%s %s"

// BranchAlias renames a branch for presentation: any branch whose name
// matches Pattern is reported as DisplayName instead (spec.md never
// requires this, but the original tool's users routinely carry long,
// machine-generated branch tags that are friendlier renamed).
type BranchAlias struct {
	Pattern     string `yaml:"pattern"`
	DisplayName string `yaml:"display_name"`

	rePattern *regexp.Regexp
}

// Config holds the optional run-time overrides spec.md's command-line
// surface (§6) doesn't otherwise cover: the default fuzz factor, where
// the persistent cache lives, the external diff command template, and
// cosmetic branch aliasing.
type Config struct {
	Fuzz        int           `yaml:"fuzz"`
	CacheDir    string        `yaml:"cache_dir"`
	DiffCommand string        `yaml:"diff_command"`
	Branches    []BranchAlias `yaml:"branch_aliases"`
}

// Unmarshal parses config over a set of defaults and validates it.
func Unmarshal(config []byte) (*Config, error) {
	cfg := &Config{
		Fuzz:        DefaultFuzz,
		DiffCommand: DefaultDiffCommand,
	}
	if err := yaml.Unmarshal(config, cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration: make sure to use 'single quotes' around strings with special characters (like match patterns)")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads and parses a config file. A missing file is
// returned as an error like any other read failure; main treats that
// error as "use the defaults".
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", filename)
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", filename)
	}
	return cfg, nil
}

// LoadConfigString parses config from an in-memory buffer.
func LoadConfigString(content []byte) (*Config, error) {
	return Unmarshal(content)
}

// Alias returns the presentation name for branch, or branch itself if no
// configured alias matches.
func (c *Config) Alias(branch string) string {
	for _, a := range c.Branches {
		if a.rePattern != nil && a.rePattern.MatchString(branch) {
			return a.DisplayName
		}
	}
	return branch
}

func (c *Config) validate() error {
	if c.Fuzz < 0 {
		return errors.Errorf("fuzz must be non-negative, got %d", c.Fuzz)
	}
	if c.DiffCommand == "" {
		return errors.New("diff_command must not be empty")
	}
	for i := range c.Branches {
		re, err := regexp.Compile(c.Branches[i].Pattern)
		if err != nil {
			return errors.Wrapf(err, "failed to parse branch alias pattern %q", c.Branches[i].Pattern)
		}
		c.Branches[i].rePattern = re
	}
	return nil
}
