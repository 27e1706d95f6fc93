// Package template renders starter twinwatch configuration files.
package template

import (
	"fmt"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// TemplateType selects which processes the generated file declares.
type TemplateType string

const (
	// TypePair declares a server and a client sharing one name prefix.
	TypePair   TemplateType = "pair"
	TypeServer TemplateType = "server"
	TypeClient TemplateType = "client"
)

// File mirrors the subset of the daemon config a starter file fills in.
type File struct {
	Watchdog  Watchdog  `toml:"watchdog"`
	Log       Log       `toml:"log"`
	Server    Server    `toml:"server"`
	Metrics   Metrics   `toml:"metrics"`
	Processes []Process `toml:"processes"`
}

type Watchdog struct {
	CheckInterval      string `toml:"check_interval"`
	HeartbeatTimeout   string `toml:"heartbeat_timeout"`
	MaxRestartAttempts int    `toml:"max_restart_attempts"`
	RestartCooldown    string `toml:"restart_cooldown"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Server struct {
	Enabled  bool   `toml:"enabled"`
	Listen   string `toml:"listen"`
	BasePath string `toml:"base_path"`
}

type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Process is one [[processes]] entry.
type Process struct {
	ID      string   `toml:"id"`
	Type    string   `toml:"type"`
	Command string   `toml:"command"`
	WorkDir string   `toml:"workdir,omitempty"`
	Env     []string `toml:"env,omitempty"`
	LogFile string   `toml:"log_file"`
	PIDFile string   `toml:"pid_file,omitempty"`
}

// Generator builds starter files. LogDir is where generated processes
// write their output; it defaults to "logs".
type Generator struct {
	LogDir string
}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{LogDir: "logs"}
}

// Generate builds a starter file named after name.
func (g *Generator) Generate(templateType TemplateType, name string) (*File, error) {
	if name == "" {
		return nil, fmt.Errorf("template name is required")
	}
	f := &File{
		Watchdog: Watchdog{
			CheckInterval:      "30s",
			HeartbeatTimeout:   "5m",
			MaxRestartAttempts: 3,
			RestartCooldown:    "1m",
		},
		Log:     Log{Level: "info", Format: "text"},
		Server:  Server{Enabled: true, Listen: "127.0.0.1:8090", BasePath: "/api"},
		Metrics: Metrics{Enabled: true},
	}
	switch templateType {
	case TypePair:
		f.Processes = []Process{g.server(name + "-server"), g.client(name+"-client", name+"-server")}
	case TypeServer:
		f.Processes = []Process{g.server(name)}
	case TypeClient:
		f.Processes = []Process{g.client(name, "")}
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: pair, server, client)", templateType)
	}
	return f, nil
}

// GenerateTOML renders the starter file as TOML.
func (g *Generator) GenerateTOML(templateType TemplateType, name string) ([]byte, error) {
	f, err := g.Generate(templateType, name)
	if err != nil {
		return nil, err
	}
	b, err := toml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return b, nil
}

// GetSupportedTypes returns a list of all supported template types
func (g *Generator) GetSupportedTypes() []string {
	return []string{string(TypePair), string(TypeServer), string(TypeClient)}
}

func (g *Generator) server(id string) Process {
	return Process{
		ID:      id,
		Type:    string(TypeServer),
		Command: "./" + id + " --port 7000",
		Env:     []string{"PORT=7000"},
		LogFile: filepath.Join(g.LogDir, id+".log"),
		PIDFile: filepath.Join(g.LogDir, id+".pid"),
	}
}

func (g *Generator) client(id, server string) Process {
	p := Process{
		ID:      id,
		Type:    string(TypeClient),
		Command: "./" + id,
		LogFile: filepath.Join(g.LogDir, id+".log"),
		PIDFile: filepath.Join(g.LogDir, id+".pid"),
	}
	if server != "" {
		p.Env = []string{"SERVER_ADDR=127.0.0.1:7000"}
	}
	return p
}
