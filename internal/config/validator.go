package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	validateServer(&cfg.Server, result)
	validateChat(&cfg.Chat, result)
	validateFiles(&cfg.Files, result)
	validateTransfers(&cfg.Transfers, result)
	validateServices(cfg, result)

	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	if strings.TrimSpace(s.Name) == "" {
		result.AddError("server.name", "server name is required")
	}
	if len(s.Ports) == 0 {
		result.AddError("server.ports", "at least one port is required")
	}

	// Each port also claims port+1 for transfers.
	seen := make(map[int]bool)
	for _, port := range s.Ports {
		validatePort(port, "server.ports", result)
		if port >= 65535 {
			result.AddError("server.ports", fmt.Sprintf("port %d leaves no room for the transfer port", port))
		}
		if seen[port] || seen[port+1] {
			result.AddError("server.ports", fmt.Sprintf("port conflict detected at %d", port))
		}
		seen[port] = true
		seen[port+1] = true
	}

	if s.IdleSeconds < 0 {
		result.AddError("server.idle_seconds", "idle time cannot be negative")
	} else if s.IdleSeconds > 0 && s.IdleSeconds < 30 {
		result.AddWarning("server.idle_seconds", "idle time less than 30 seconds marks users away almost immediately")
	}
	if s.BanSeconds < 0 {
		result.AddError("server.ban_seconds", "ban time cannot be negative")
	}
	if s.Bind != "" && net.ParseIP(s.Bind) == nil {
		result.AddWarning("server.bind", fmt.Sprintf("bind address %q is not an IP, it will be resolved", s.Bind))
	}
}

func validateChat(c *ChatConfig, result *ValidationResult) {
	if strings.Count(c.Format, "%") < 2 {
		result.AddError("chat.format", "chat format needs a nick and a text verb")
	}
	if strings.Count(c.EmoteFormat, "%") < 2 {
		result.AddError("chat.emote_format", "emote format needs a nick and a text verb")
	}
	if c.MaxNickLen < 1 || c.MaxNickLen > 255 {
		result.AddError("chat.max_nick_len", "nick length must be 1-255")
	}
	if c.MaxChatLen < 1 || c.MaxChatLen > 65535 {
		result.AddError("chat.max_chat_len", "chat length must be 1-65535")
	}
	if c.MaxMsgLen < 1 || c.MaxMsgLen > 65535 {
		result.AddError("chat.max_msg_len", "message length must be 1-65535")
	}
}

func validateFiles(f *FilesConfig, result *ValidationResult) {
	if strings.TrimSpace(f.Root) == "" {
		result.AddError("files.root", "file root is required")
	} else if _, err := os.Stat(f.Root); os.IsNotExist(err) {
		result.AddWarning("files.root", fmt.Sprintf("directory does not exist: %s", f.Root))
	}
}

func validateTransfers(t *TransfersConfig, result *ValidationResult) {
	if t.TimeoutSeconds < 1 {
		result.AddError("transfers.timeout_seconds", "transfer timeout must be at least 1 second")
	}
	if t.SweepIntervalSeconds < 1 {
		result.AddError("transfers.sweep_interval_seconds", "sweep interval must be at least 1 second")
	}
}

func validateServices(cfg *Config, result *ValidationResult) {
	if strings.TrimSpace(cfg.Database.Path) == "" {
		result.AddError("database.path", "database path is required")
	}

	if cfg.Tracker.Enabled {
		if len(cfg.Tracker.Addresses) == 0 {
			result.AddError("tracker.addresses", "at least one tracker address is required when enabled")
		}
		if cfg.Tracker.IntervalSeconds < 60 {
			result.AddWarning("tracker.interval_seconds", "tracker interval less than 60s may get the server dropped")
		}
	}

	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		for _, port := range cfg.Server.Ports {
			if cfg.API.Port == port || cfg.API.Port == port+1 {
				result.AddError("api.port", "api port conflicts with a server port")
			}
		}
		if cfg.API.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
		if cfg.API.TLS && (cfg.API.CertFile == "" || cfg.API.KeyFile == "") {
			result.AddError("api.cert_file", "certificate and key paths are required for TLS")
		}
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	if cfg.Archive.Enabled {
		if strings.TrimSpace(cfg.Archive.Bucket) == "" {
			result.AddError("archive.bucket", "bucket is required when archiving is enabled")
		}
		switch cfg.Archive.Compression {
		case "zstd", "s2", "none":
		default:
			result.AddError("archive.compression", fmt.Sprintf("unknown compression %q", cfg.Archive.Compression))
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
