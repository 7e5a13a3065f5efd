package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const envICEServersJSON = "ROOMCALL_ICE_SERVERS_JSON"

// ICEServer is one STUN or TURN server entry.
type ICEServer struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

// stringOrStringSlice accepts both "urls": "stun:..." and "urls": ["stun:..."],
// matching the browser RTCIceServer shape.
type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses a browser-style iceServers array.
func ParseICEServersJSON(raw string) ([]ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]ICEServer, 0, len(servers))
	for i, server := range servers {
		urls := make([]string, 0, len(server.URLs))
		for _, url := range server.URLs {
			if url = strings.TrimSpace(url); url != "" {
				urls = append(urls, url)
			}
		}

		s := ICEServer{
			URLs:       urls,
			Username:   strings.TrimSpace(server.Username),
			Credential: strings.TrimSpace(server.Credential),
		}
		if err := validateICEServer(s); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// WebRTCICEServers converts the configured servers for pion.
func (c *Config) WebRTCICEServers() []webrtc.ICEServer {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		server := webrtc.ICEServer{
			URLs:     append([]string(nil), s.URLs...),
			Username: s.Username,
		}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}

func validateICEServer(server ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	requiresTurnCreds := false
	for _, url := range server.URLs {
		switch {
		case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
		case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			requiresTurnCreds = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
	}

	if requiresTurnCreds && (server.Username == "" || server.Credential == "") {
		return errors.New("turn urls require username and credential")
	}
	return nil
}
