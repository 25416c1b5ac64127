package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads the YAML file at path, expands environment references
// and applies defaults. It does not validate.
func LoadConfig(path string) (*GatewayConfig, error) {
	f, err := os.Open(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	cfg, err := LoadConfigFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigFromReader is LoadConfig for an already open document.
func LoadConfigFromReader(r io.Reader) (*GatewayConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg GatewayConfig
	dec := yaml.NewDecoder(strings.NewReader(substituteEnvVars(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// substituteEnvVars expands ${NAME} and ${NAME:-default}. Unset names
// without a default expand to "". "$$" yields a literal "$" and a bare
// "$NAME" is left alone.
func substituteEnvVars(content string) string {
	var b strings.Builder
	b.Grow(len(content))

	for i := 0; i < len(content); i++ {
		c := content[i]
		if c != '$' || i+1 == len(content) {
			b.WriteByte(c)
			continue
		}

		switch content[i+1] {
		case '$':
			b.WriteByte('$')
			i++
		case '{':
			end := strings.IndexByte(content[i+2:], '}')
			if end < 0 {
				b.WriteString(content[i:])
				return b.String()
			}
			b.WriteString(lookupRef(content[i+2 : i+2+end]))
			i += end + 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func lookupRef(ref string) string {
	name, def, _ := strings.Cut(ref, ":-")
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}
