package config

import "time"

// Config is the file based configuration of the collector.
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
	Keywords  []KeywordSpec   `yaml:"keywords"`
}

// CollectorConfig controls where and how CVE records are collected.
type CollectorConfig struct {
	// RepoPath is the local checkout of the cvelistV5 repository.
	RepoPath string `yaml:"repo_path"`

	// Workers bounds how many CVE files are parsed and saved at once.
	Workers int `yaml:"workers,omitempty"`

	// Since overrides the stored period end on the first run.
	Since time.Time `yaml:"since,omitempty"`

	// Interval is the pause between scans in watch mode.
	Interval time.Duration `yaml:"interval,omitempty"`
}

// KeywordSpec is a keyword entry as written in the config file.
type KeywordSpec struct {
	Keyword string `yaml:"keyword"`
	Type    string `yaml:"type"`
}
