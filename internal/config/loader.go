package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ClientEntry is one preconfigured identity: its display name, the argon2id
// hash of its secret, and the push port reserved for its notification
// channel.
type ClientEntry struct {
	ID         string
	Name       string
	SecretHash string
	PushPort   int
}

// ServerConfig captures environment driven configuration for the meeting
// server.
type ServerConfig struct {
	BindAddr    string
	Port        int
	StorePath   string
	MetricsAddr string
	Clients     []ClientEntry
}

// ClientConfig captures environment driven configuration for the client
// binary.
type ClientConfig struct {
	ServerAddr string
	EmployeeID string
	Name       string
	Secret     string
	StorePath  string
}

// Load parses the server configuration from the current process environment.
//
// The loader applies defaults for optional fields while validating required
// values and accumulating every missing or malformed entry into one error.
func Load() (ServerConfig, error) {
	cfg := ServerConfig{
		BindAddr:  "0.0.0.0",
		Port:      8080,
		StorePath: "meetings.json",
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if addr := strings.TrimSpace(os.Getenv("VMM_BIND_ADDR")); addr != "" {
		cfg.BindAddr = addr
	}

	if portValue := strings.TrimSpace(os.Getenv("VMM_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "VMM_PORT")
		} else {
			cfg.Port = port
		}
	}

	if path := strings.TrimSpace(os.Getenv("VMM_STORE_PATH")); path != "" {
		cfg.StorePath = path
	}

	cfg.MetricsAddr = strings.TrimSpace(os.Getenv("VMM_METRICS_ADDR"))

	if clientsValue := strings.TrimSpace(os.Getenv("VMM_CLIENTS")); clientsValue == "" {
		missing = append(missing, "VMM_CLIENTS")
	} else {
		clients, err := parseClients(clientsValue)
		if err != nil {
			invalid = append(invalid, "VMM_CLIENTS")
		} else {
			cfg.Clients = clients
		}
	}

	if len(missing) > 0 {
		return ServerConfig{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return ServerConfig{}, fmt.Errorf("environment variables hold invalid values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// LoadClient parses the client configuration from the current process
// environment.
func LoadClient() (ClientConfig, error) {
	cfg := ClientConfig{
		ServerAddr: "127.0.0.1:8080",
		StorePath:  "meetings-local.json",
	}

	missing := make([]string, 0, 2)

	if addr := strings.TrimSpace(os.Getenv("VMM_SERVER_ADDR")); addr != "" {
		cfg.ServerAddr = addr
	}

	if id := strings.TrimSpace(os.Getenv("VMM_CLIENT_ID")); id == "" {
		missing = append(missing, "VMM_CLIENT_ID")
	} else {
		cfg.EmployeeID = id
	}

	cfg.Name = strings.TrimSpace(os.Getenv("VMM_CLIENT_NAME"))

	if secret := os.Getenv("VMM_CLIENT_SECRET"); secret == "" {
		missing = append(missing, "VMM_CLIENT_SECRET")
	} else {
		cfg.Secret = secret
	}

	if path := strings.TrimSpace(os.Getenv("VMM_CLIENT_STORE_PATH")); path != "" {
		cfg.StorePath = path
	}

	if len(missing) > 0 {
		return ClientConfig{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// parseClients splits the semicolon-separated client table. Each entry is
// id|name|argon2idHash|pushPort. Entries are separated by ";" because the
// argon2id hash format carries commas in its parameter block. Push ports must
// be unique across entries.
func parseClients(value string) ([]ClientEntry, error) {
	entries := strings.Split(value, ";")
	clients := make([]ClientEntry, 0, len(entries))
	seenIDs := make(map[string]struct{}, len(entries))
	seenPorts := make(map[int]struct{}, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, "|")
		if len(fields) != 4 {
			return nil, fmt.Errorf("client entry %q: want id|name|hash|port", entry)
		}
		id := strings.TrimSpace(fields[0])
		name := strings.TrimSpace(fields[1])
		hash := strings.TrimSpace(fields[2])
		port, err := strconv.Atoi(strings.TrimSpace(fields[3]))
		if id == "" || name == "" || hash == "" {
			return nil, fmt.Errorf("client entry %q: empty field", entry)
		}
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("client entry %q: invalid push port", entry)
		}
		if _, ok := seenIDs[id]; ok {
			return nil, fmt.Errorf("client entry %q: duplicate id", entry)
		}
		if _, ok := seenPorts[port]; ok {
			return nil, fmt.Errorf("client entry %q: duplicate push port", entry)
		}
		seenIDs[id] = struct{}{}
		seenPorts[port] = struct{}{}
		clients = append(clients, ClientEntry{ID: id, Name: name, SecretHash: hash, PushPort: port})
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("client table is empty")
	}
	return clients, nil
}
