package commander

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/siderant/funtonic/keys"
)

// GeneratedKey is the YAML document printed by genkey: the key pair for
// the commander config and the matching authorized_keys snippet for
// server and executor configs.
type GeneratedKey struct {
	Key            keys.Key          `yaml:"ed25519_key"`
	AuthorizedKeys map[string]string `yaml:"authorized_keys"`
}

// GenerateKeyYAML creates a fresh named key pair and renders the config
// snippets for it.
func GenerateKeyYAML(name string) (string, error) {
	key, err := keys.Generate(name)
	if err != nil {
		return "", err
	}
	out, err := yaml.Marshal(GeneratedKey{
		Key:            key,
		AuthorizedKeys: map[string]string{name: key.PublicKey},
	})
	if err != nil {
		return "", fmt.Errorf("rendering key pair: %w", err)
	}
	return string(out), nil
}
