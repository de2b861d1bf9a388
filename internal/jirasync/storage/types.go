package storage

import (
	"time"
)

// WatchList is a named set of issues to watch. Issues come from explicit
// keys, from a JQL query resolved when the list is started, or both.
type WatchList struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Keys        []string  `yaml:"keys,omitempty"`
	JQL         string    `yaml:"jql,omitempty"`
	Created     time.Time `yaml:"created"`
	LastStarted time.Time `yaml:"last_started,omitempty"`
}

// WatchListItem is the summary of a stored watch list
type WatchListItem struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	JQL         string    `yaml:"jql,omitempty"`
	KeyCount    int       `yaml:"key_count"`
	LastStarted time.Time `yaml:"last_started,omitempty"`
}
