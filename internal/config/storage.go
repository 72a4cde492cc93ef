package config

// JournalConfig configures the sqlite patch outcome journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WatchConfig configures bundle hot reload.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}
