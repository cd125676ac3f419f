package client

// RegistryStatus mirrors the daemon's registry status response.
type RegistryStatus struct {
	Running     bool   `json:"running"`
	Port        uint16 `json:"port"`
	PID         int    `json:"pid,omitempty"`
	StoragePath string `json:"storage_path"`
	ConfigPath  string `json:"config_path"`
	State       string `json:"state"`
}

// StartRequest selects the port and bind scope for a registry launch.
// A zero Port uses the daemon's default.
type StartRequest struct {
	Port     uint16 `json:"port,omitempty"`
	AllowLAN bool   `json:"allow_lan,omitempty"`
}

// LogEntry is one line from the registry log buffer.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// PackageInfo is one catalog entry.
type PackageInfo struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	License     string   `json:"license,omitempty"`
	Versions    []string `json:"versions"`
	Keywords    []string `json:"keywords"`
	Homepage    string   `json:"homepage,omitempty"`
	Repository  string   `json:"repository,omitempty"`
	Created     string   `json:"created,omitempty"`
	Modified    string   `json:"modified,omitempty"`
}

// PackagePage is one page of catalog results.
type PackagePage struct {
	Items      []PackageInfo `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// PackagesQuery selects a slice of the catalog.
type PackagesQuery struct {
	Type     string // "private", "cached" or "all"
	Page     int
	PageSize int
}

// User is one htpasswd account.
type User struct {
	Username string `json:"username"`
}

// Settings are the persisted control panel preferences.
type Settings struct {
	AutoStart         bool   `json:"auto_start"`
	MinimizeToTray    bool   `json:"minimize_to_tray"`
	AutoStartRegistry bool   `json:"auto_start_registry"`
	DefaultPort       uint16 `json:"default_port"`
	AllowLAN          bool   `json:"allow_lan"`
}

// ErrorResponse is the daemon's error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
