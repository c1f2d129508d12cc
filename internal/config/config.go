package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/pettai/capirca/internal/aclgen"
)

const DEFAULT_OUTPUT = "."

type MarshalledConfig struct {
	Definitions string   `yaml:"definitions"`
	Policies    []string `yaml:"policies"`
	Output      string   `yaml:"output,omitempty"`
	ExpInfo     int      `yaml:"expInfo,omitempty"`
	Platforms   []string `yaml:"platforms,omitempty"`
}

// AppConfig says where policies and definitions live and what to render.
type AppConfig struct {
	Definitions string
	Policies    []string
	Output      string
	ExpInfo     int
	// Platforms limits rendering; empty renders every registered platform.
	Platforms []string
}

func getConfig(data []byte) (*AppConfig, error) {
	var tempConfig = new(MarshalledConfig)

	if err := yaml.UnmarshalStrict(data, tempConfig); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if tempConfig.Output == "" {
		tempConfig.Output = DEFAULT_OUTPUT
	}
	if tempConfig.ExpInfo == 0 {
		tempConfig.ExpInfo = aclgen.DEFAULT_EXP_INFO
	}
	for _, p := range tempConfig.Platforms {
		if _, ok := aclgen.Lookup(p); !ok {
			return nil, errors.Errorf("unsupported platform %s, expected one of %s", p, strings.Join(aclgen.Platforms(), ", "))
		}
	}

	return &AppConfig{
		Definitions: tempConfig.Definitions,
		Policies:    tempConfig.Policies,
		Output:      tempConfig.Output,
		ExpInfo:     tempConfig.ExpInfo,
		Platforms:   tempConfig.Platforms,
	}, nil
}

func New(reader io.Reader) (*AppConfig, error) {
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}

	result, err := getConfig(buf.Bytes())
	if err != nil {
		return nil, err
	}
	if result.ExpInfo < 0 {
		return nil, errors.Errorf("expInfo must not be negative, got %d", result.ExpInfo)
	}
	return result, nil
}

// Load reads the config file at path.
func Load(path string) (*AppConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config")
	}
	defer f.Close()

	c, err := New(f)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}

// Validate checks that the paths a render needs are set.
func (c *AppConfig) Validate() error {
	if c.Definitions == "" {
		return errors.New("no definitions directory configured")
	}
	if len(c.Policies) == 0 {
		return errors.New("no policies configured")
	}
	return nil
}

// Renders reports whether platform is enabled.
func (c *AppConfig) Renders(platform string) bool {
	if len(c.Platforms) == 0 {
		return true
	}
	for _, p := range c.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// PolicyFiles expands the configured policies, walking directories for
// .yaml and .yml files. The result is sorted and free of duplicates.
func (c *AppConfig) PolicyFiles() ([]string, error) {
	seen := map[string]bool{}
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, p := range c.Policies {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrap(err, "failed to stat policy")
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		err = filepath.Walk(p, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			ext := filepath.Ext(path)
			if !info.IsDir() && (ext == ".yaml" || ext == ".yml") {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to walk %s", p)
		}
	}
	sort.Strings(files)
	return files, nil
}

// OutputPath is where the rendering of policyFile for a platform goes.
func (c *AppConfig) OutputPath(policyFile, suffix string) string {
	base := strings.TrimSuffix(filepath.Base(policyFile), filepath.Ext(policyFile))
	return filepath.Join(c.Output, base+suffix)
}
