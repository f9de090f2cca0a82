package wireguard

import (
	"bytes"
	"fmt"
	"text/template"
)

// ClientConfig holds everything rendered into a client's wg-quick file.
type ClientConfig struct {
	PrivateKey      string
	Address         string
	DNS             string
	ServerPublicKey string
	Endpoint        string
	AllowedIPs      string
	Keepalive       int
}

var clientTemplate = template.Must(template.New("client").Parse(`[Interface]
PrivateKey = {{ .PrivateKey }}
Address = {{ .Address }}/24
DNS = {{ .DNS }}

[Peer]
PublicKey = {{ .ServerPublicKey }}
Endpoint = {{ .Endpoint }}
AllowedIPs = {{ .AllowedIPs }}
PersistentKeepalive = {{ .Keepalive }}
`))

// Render produces the client config blob.
func (c ClientConfig) Render() ([]byte, error) {
	if c.PrivateKey == "" || c.ServerPublicKey == "" || c.Address == "" || c.Endpoint == "" {
		return nil, fmt.Errorf("incomplete client config")
	}
	var buf bytes.Buffer
	if err := clientTemplate.Execute(&buf, c); err != nil {
		return nil, fmt.Errorf("failed to render client config: %w", err)
	}
	return buf.Bytes(), nil
}
