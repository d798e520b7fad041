// Package config loads testdash flag values from a YAML file.
//
// Keys are flag names with dashes or underscores, and may be nested on the
// leading name segment:
//
//	backend-host: https://api.testpilot.dev
//	session:
//	  timeout: 45m
//	  warning_lead: 2m
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file consulted by both binaries.
const DefaultPath = "~/.testdash/config.yaml"

// Option installs the YAML resolver for the given files. Missing files are
// skipped.
func Option(paths ...string) kong.Option {
	if len(paths) == 0 {
		paths = []string{DefaultPath}
	}
	return kong.Configuration(YAML, paths...)
}

// YAML is a kong.ConfigurationLoader for YAML documents.
func YAML(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	var f kong.ResolverFunc = func(context *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		raw, ok := lookup(values, flag.Name)
		if !ok {
			return nil, nil
		}
		return normalize(raw), nil
	}
	return f, nil
}

// lookup finds name in values, trying the flat key first and then nested
// sections split on "-".
func lookup(values map[string]any, name string) (any, bool) {
	for _, key := range []string{name, strings.ReplaceAll(name, "-", "_")} {
		if v, ok := values[key]; ok {
			return v, true
		}
	}

	for i := strings.Index(name, "-"); i > 0; {
		if section, ok := values[name[:i]].(map[string]any); ok {
			if v, ok := lookup(section, name[i+1:]); ok {
				return v, true
			}
		}
		next := strings.Index(name[i+1:], "-")
		if next < 0 {
			break
		}
		i += next + 1
	}

	return nil, false
}

// normalize turns YAML sequences into the comma separated form kong splits
// for slice flags.
func normalize(raw any) any {
	list, ok := raw.([]any)
	if !ok {
		return raw
	}
	parts := make([]string, 0, len(list))
	for _, v := range list {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, ",")
}
