package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed lists accounts created at startup when they do not exist yet.
type Seed struct {
	Users []SeedUser `yaml:"users"`
}

// SeedUser is one bootstrap account.
type SeedUser struct {
	Email       string `yaml:"email"`
	DisplayName string `yaml:"display_name"`
	Role        string `yaml:"role"`
	Password    string `yaml:"password"`
}

// LoadSeed reads a Seed from a YAML file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("unmarshal seed file: %w", err)
	}
	for i, user := range seed.Users {
		if user.Email == "" {
			return Seed{}, fmt.Errorf("seed user %d: email is required", i)
		}
	}
	return seed, nil
}
