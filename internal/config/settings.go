package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pfctl/internal/session"
	"pfctl/pkg/logging"

	"gopkg.in/yaml.v3"
)

const openBrowserKey = "portForwardOpenBrowser"

// Settings holds the open-browser preference and saves changes to a YAML
// file, leaving the file's other keys and comments in place.
type Settings struct {
	mu   sync.RWMutex
	path string
	pref session.OpenBrowserPreference
}

var _ session.Settings = (*Settings)(nil)

// NewSettings starts from pref and persists changes to path.
func NewSettings(path string, pref session.OpenBrowserPreference) *Settings {
	return &Settings{path: path, pref: pref}
}

// NewUserSettings persists to the user config file.
func NewUserSettings(cfg PfctlConfig) (*Settings, error) {
	path, err := UserConfigPath()
	if err != nil {
		return nil, fmt.Errorf("could not determine user config path: %w", err)
	}
	return NewSettings(path, cfg.OpenBrowser()), nil
}

// Path is the file changes are written to.
func (s *Settings) Path() string {
	return s.path
}

func (s *Settings) OpenBrowser() session.OpenBrowserPreference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pref
}

// SetOpenBrowser updates the preference and writes it to the settings file.
// The in-memory value is only changed once the write succeeded.
func (s *Settings) SetOpenBrowser(p session.OpenBrowserPreference) error {
	if _, err := session.ParseOpenBrowserPreference(string(p)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := updateYAMLKey(s.path, openBrowserKey, string(p)); err != nil {
		return fmt.Errorf("failed to save %s to %s: %w", openBrowserKey, s.path, err)
	}
	s.pref = p
	logging.Info("Config", "Saved %s=%s to %s", openBrowserKey, p, s.path)
	return nil
}

// updateYAMLKey sets a top-level scalar in the YAML file at path, creating
// the file if needed.
func updateYAMLKey(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	out, err := setTopLevelKey(data, key, value)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func setTopLevelKey(data []byte, key, value string) ([]byte, error) {
	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse existing config: %w", err)
		}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}},
		}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("existing config is not a YAML mapping")
	}

	valueNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	replaced := false
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			valueNode.LineComment = root.Content[i+1].LineComment
			root.Content[i+1] = valueNode
			replaced = true
			break
		}
	}
	if !replaced {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			valueNode,
		)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
