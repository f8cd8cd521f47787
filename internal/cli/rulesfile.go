package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RulesFile is the on-disk form of a rule set. Order is the combination order.
type RulesFile struct {
	Rules []string `yaml:"rules" json:"rules"`
}

// ReadRulesFile reads an ordered rule list.
//
// .yaml, .yml and .json files hold a RulesFile document. Any other extension
// is read as plain text: one rule per line, blank lines and lines starting
// with '#' skipped.
func ReadRulesFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		var rf RulesFile
		// yaml.v3 also parses JSON documents
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("failed to parse file: %w", err)
		}
		return rf.Rules, nil
	default:
		var list []string
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			list = append(list, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		return list, nil
	}
}

// WriteRulesFile writes list to path; JSON for .json, plain text for .txt,
// YAML otherwise.
func WriteRulesFile(path string, list []string) error {
	if list == nil {
		list = []string{}
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(RulesFile{Rules: list}, "", "  ")
		data = append(data, '\n')
	case ".txt":
		data = []byte(strings.Join(list, "\n") + "\n")
	default:
		data, err = yaml.Marshal(RulesFile{Rules: list})
	}
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
