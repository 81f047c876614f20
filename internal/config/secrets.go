package config

import (
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

// SecretPrefix marks a value to be read from the system keyring
const SecretPrefix = "keyring:"

const masked = "********"

// KeyringConfig selects the keyring secrets are read from
type KeyringConfig struct {
	Service string `mapstructure:"service" yaml:"service"`
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// OpenKeyring opens the system keyring for the configured service
func OpenKeyring(cfg KeyringConfig) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: cfg.Service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.Service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func (c *Config) secrets() []*string {
	return []*string{
		&c.Workfront.APIKey,
		&c.Jira.Password,
		&c.Jira.Database.DSN,
		&c.CRM.Database.DSN,
	}
}

// ResolveSecrets replaces every keyring:<key> value with the keyring item of
// that key. The keyring is opened only when such a value exists.
func (c *Config) ResolveSecrets(open func() (keyring.Keyring, error)) error {
	var ring keyring.Keyring

	for _, secret := range c.secrets() {
		key, ok := strings.CutPrefix(*secret, SecretPrefix)
		if !ok {
			continue
		}

		if ring == nil {
			var err error
			if ring, err = open(); err != nil {
				return err
			}
		}

		item, err := ring.Get(key)
		if err != nil {
			return fmt.Errorf("getting credential %q: %w", key, err)
		}
		*secret = string(item.Data)
	}

	return nil
}

// Masked returns a copy of the config with secret values hidden. Keyring
// references are kept since they hold no secret.
func (c *Config) Masked() Config {
	out := *c
	for _, secret := range out.secrets() {
		if *secret != "" && !strings.HasPrefix(*secret, SecretPrefix) {
			*secret = masked
		}
	}
	return out
}
