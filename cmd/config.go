package main

import (
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotify-mcp/internal/shared"
)

// nonConfigFlags select the mode or the sources themselves rather than config values.
var nonConfigFlags = map[string]struct{}{
	"setup":    {},
	"config":   {},
	"env-file": {},
	"help":     {},
	"version":  {},
}

// loadConfig loads the env file into the process environment, then merges
// defaults → config file → environment → CLI flags.
func loadConfig(cmd *cli.Command, environFunc func() []string) (*shared.Config, error) {
	if err := shared.LoadEnvFile(cmd.String("env-file")); err != nil {
		return nil, err
	}

	return shared.LoadConfig(shared.LoadOptions{
		Path:    cmd.String("config"),
		Environ: environFunc,
		Flags:   extractAndTransformFlags(cmd),
	})
}

// extractAndTransformFlags transforms CLI flag names to match config structure.
// Examples: --server--host → server.host, --log-level → log.level
func extractAndTransformFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	for _, name := range cmd.FlagNames() {
		if _, skip := nonConfigFlags[name]; skip {
			continue
		}
		// Skip unset flags to preserve precedence from earlier config sources
		if !cmd.IsSet(name) {
			continue
		}

		if value := cmd.Value(name); value != nil {
			values[flagKey(name)] = value
		}
	}

	return values
}

func flagKey(name string) string {
	if name == "log-level" {
		return "log.level"
	}
	key := strings.ReplaceAll(name, "--", ".")
	return strings.ReplaceAll(key, "-", "_")
}
