package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/Dhanuzh/airefiner/internal/provider"
)

// ProviderInfo describes a provider for auth purposes.
type ProviderInfo struct {
	ID      provider.ID
	Name    string // e.g. "Anthropic Claude"
	URLHint string // API key page URL
}

// ProviderRegistry is the ordered list of supported providers.
var ProviderRegistry = []ProviderInfo{
	{provider.OpenAI, "OpenAI GPT", "https://platform.openai.com/api-keys"},
	{provider.Anthropic, "Anthropic Claude", "https://console.anthropic.com/"},
	{provider.Google, "Google Gemini", "https://aistudio.google.com/apikey"},
	{provider.Groq, "Groq", "https://console.groq.com/keys"},
	{provider.XAI, "xAI (Grok)", "https://console.x.ai/"},
	{provider.Qwen, "Qwen (DashScope)", "https://dashscope.console.aliyun.com/apiKey"},
}

// LookupProviderInfo returns the registry entry for id.
func LookupProviderInfo(id provider.ID) (ProviderInfo, bool) {
	for _, p := range ProviderRegistry {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderInfo{}, false
}

// Credentials stores API keys saved with `airefiner auth login`.
type Credentials struct {
	Keys map[provider.ID]string `json:"keys,omitempty"`
}

// GetCredentialsPath returns the path to the credentials file
func GetCredentialsPath() string {
	return filepath.Join(GetConfigDir(), "credentials.json")
}

// LoadCredentials loads stored credentials. A missing file is not an error.
func LoadCredentials(path string) (*Credentials, error) {
	creds := &Credentials{Keys: map[provider.ID]string{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return creds, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if creds.Keys == nil {
		creds.Keys = map[provider.ID]string{}
	}
	return creds, nil
}

// SaveCredentials saves credentials to disk
func SaveCredentials(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Set stores key for id; an empty key removes it.
func (c *Credentials) Set(id provider.ID, key string) {
	if key == "" {
		delete(c.Keys, id)
		return
	}
	c.Keys[id] = key
}

// Configured lists providers with a stored key, in presentation order.
func (c *Credentials) Configured() []provider.ID {
	var out []provider.ID
	for _, id := range provider.All {
		if c.Keys[id] != "" {
			out = append(out, id)
		}
	}
	return out
}

// ReadSecret reads a key without echoing it when in is a terminal.
func ReadSecret(in *os.File, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	if term.IsTerminal(int(in.Fd())) {
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	b, err := io.ReadAll(io.LimitReader(in, 4096))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// MaskKey shows the first and last few characters of a key.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", 4) + key[len(key)-4:]
}
