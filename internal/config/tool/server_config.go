package tool

const (
	TransportStdio     = "stdio"
	TransportWebsocket = "websocket"
)

// ServerConfig describes one tool server connection (stdio or websocket).
type ServerConfig struct {
	ID        string            `json:"id" yaml:"id" validate:"required,max=64"`
	Namespace string            `json:"namespace,omitempty" yaml:"namespace,omitempty" validate:"omitempty,max=32"`
	Transport string            `json:"transport" yaml:"transport" validate:"omitempty,oneof=stdio websocket"`
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir       string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Disabled  bool              `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// TransportKind resolves an empty transport: a URL means websocket,
// anything else stdio.
func (c ServerConfig) TransportKind() string {
	if c.Transport != "" {
		return c.Transport
	}
	if c.URL != "" && c.Command == "" {
		return TransportWebsocket
	}
	return TransportStdio
}
