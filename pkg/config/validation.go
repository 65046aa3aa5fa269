package config

import (
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that
// cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// The node must appear in its own member list or it could never own
	// a shard and every local request would be forwarded.
	if !slices.Contains(cfg.Cluster.Members, cfg.Cluster.Address) {
		return fmt.Errorf("cluster: address %q is not in the member list", cfg.Cluster.Address)
	}

	// Member addresses must be unique
	seen := make(map[string]bool)
	for i, member := range cfg.Cluster.Members {
		if seen[member] {
			return fmt.Errorf("cluster.members[%d]: duplicate member %q", i, member)
		}
		seen[member] = true
	}

	// The block engine persists extent lists, so its metadata must
	// survive restarts too.
	if cfg.Engine.Type == "block" && cfg.Metadata.Type == "memory" {
		return fmt.Errorf("engine: block engine requires a persistent metadata store (metadata.type: badger)")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
