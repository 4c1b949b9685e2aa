package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

// PolicyFile is the on-disk form of a policy seed file:
//
//	policies:
//	  - id: lan-admins
//	    name: admins on LAN
//	    subject: admin_group
//	    object: internal_network
//	    conditions: {ip_range: 192.168.1.0/24}
//	    action: allow
//	    priority: 10
type PolicyFile struct {
	Policies []PolicyConfig `yaml:"policies" validate:"dive"`
}

// ParsePolicyFile decodes and validates policy YAML. Unknown keys are
// rejected so typos in field names are not silently ignored.
func ParsePolicyFile(r io.Reader) (*PolicyFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var pf PolicyFile
	if err := dec.Decode(&pf); err != nil {
		if errors.Is(err, io.EOF) {
			return &pf, nil
		}
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return nil, err
	}
	if err := v.Struct(&pf); err != nil {
		return nil, formatValidationErrors(err)
	}
	return &pf, nil
}

// LoadPolicyFile reads a policy YAML file from path.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicyFile(bytes.NewReader(data))
}

// ToPolicies converts every entry to a domain policy.
func (pf *PolicyFile) ToPolicies() []policy.Policy {
	out := make([]policy.Policy, 0, len(pf.Policies))
	for _, pc := range pf.Policies {
		out = append(out, pc.ToPolicy())
	}
	return out
}

// MarshalPolicies renders policies in PolicyFile form.
func MarshalPolicies(policies []policy.Policy) ([]byte, error) {
	pf := PolicyFile{Policies: make([]PolicyConfig, 0, len(policies))}
	for _, p := range policies {
		enabled := p.Enabled
		pf.Policies = append(pf.Policies, PolicyConfig{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Subject:     p.Subject,
			Object:      p.Object,
			Conditions:  p.Conditions,
			Action:      string(p.Action),
			Priority:    p.Priority,
			Enabled:     &enabled,
		})
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(pf); err != nil {
		return nil, fmt.Errorf("encode policies: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
