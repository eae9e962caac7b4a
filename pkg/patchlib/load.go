package patchlib

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadRoutes reads route definitions from one or more files or directories
// separated by ";". An empty path yields DefaultRoutes.
func LoadRoutes(routePaths string) (RouteSet, error) {
	if strings.TrimSpace(routePaths) == "" {
		slog.Info("no routes file specified, using built-in routes")
		return DefaultRoutes(), nil
	}

	var routeSet RouteSet
	var errs []error

	for _, routePath := range strings.Split(routePaths, ";") {
		trimmedPath := strings.TrimSpace(routePath)
		if trimmedPath == "" {
			continue
		}

		var routes RouteSet
		err := filepath.Walk(trimmedPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !(strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml")) {
				return nil
			}
			yamlFile, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read routes file '%s': %w", path, err)
			}
			r, err := ParseRoutes(yamlFile)
			if err != nil {
				return fmt.Errorf("syntax error in routes file '%s': %w", path, err)
			}
			routes = append(routes, r...)
			return nil
		})

		if err != nil {
			errs = append(errs, fmt.Errorf("failed to load routes from '%s': %w", trimmedPath, err))
		} else {
			routeSet = append(routeSet, routes...)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(routeSet) == 0 {
		return nil, fmt.Errorf("no routes found in %s", routePaths)
	}

	slog.Info("loaded routes", "count", routeSet.Count(), "source", routePaths)
	return routeSet, nil
}

// ParseRoutes decodes a YAML list of routes. Unknown keys are rejected so a
// misspelt "match" does not silently disable a patch.
func ParseRoutes(data []byte) (RouteSet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var rs RouteSet
	if err := dec.Decode(&rs); err != nil {
		if errors.Is(err, io.EOF) {
			return RouteSet{}, nil
		}
		return nil, err
	}
	return rs, nil
}
