package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/local/imagecleaner/internal/pipeline"
)

// LoadRules reads the persisted rule toggles from path. A missing or
// unreadable file yields the defaults silently; a present but corrupt file is
// logged and also falls back to the defaults.
func LoadRules(path string) pipeline.RuleConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("file", path).Msg("reading rules file failed, using defaults")
		}
		return pipeline.DefaultRules()
	}
	var rules pipeline.RuleConfig
	if err := json.Unmarshal(data, &rules); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("rules file is corrupt, using defaults")
		return pipeline.DefaultRules()
	}
	return rules
}

// SaveRules persists the rule toggles to path atomically so the next start
// resumes with the same selection.
func SaveRules(path string, rules pipeline.RuleConfig) error {
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".rules-*.json")
	if err != nil {
		return fmt.Errorf("write rules: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write rules: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write rules: %w", err)
	}
	return nil
}
