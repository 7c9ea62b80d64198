package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

type policyFile struct {
	Policies map[string]policyEntry `yaml:"policies"`
}

type policyEntry struct {
	MaxRequests int    `yaml:"max_requests"`
	Window      string `yaml:"window"`
}

// LoadPolicies lê o arquivo YAML de políticas e mescla sobre a tabela embutida.
// Caminho vazio retorna só a tabela embutida.
//
//	policies:
//	  auth:  {max_requests: 20, window: 15m}
//	  login: {max_requests: 5,  window: 1m}
func LoadPolicies(path string) (domain.Policies, error) {
	if path == "" {
		return domain.DefaultPolicies(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	ps, err := ParsePolicies(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ps, nil
}

// ParsePolicies decodifica o YAML de políticas (campos desconhecidos são erro).
func ParsePolicies(r io.Reader) (domain.Policies, error) {
	var pf policyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode policies: %w", err)
	}

	ps := domain.DefaultPolicies()
	for name, e := range pf.Policies {
		window, err := time.ParseDuration(e.Window)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w: window: %v", name, domain.ErrInvalidPolicy, err)
		}
		ps[domain.Category(name)] = domain.Policy{MaxRequests: e.MaxRequests, Window: window}
	}
	if err := ps.Validate(); err != nil {
		return nil, err
	}
	return ps, nil
}
