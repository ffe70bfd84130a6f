package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Discovery limits. Project trees can be huge; the scan stays shallow and
// skips build output so it finishes in interactive time.
const (
	discoveryMaxDepth    = 6
	discoveryMaxFileSize = 256 * 1024
)

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"bin":          true,
	"obj":          true,
	"vendor":       true,
	".vs":          true,
	"packages":     true,
}

// connStringPattern recognizes a SQL Server connection string by its
// characteristic keys or URL scheme.
var connStringPattern = regexp.MustCompile(`(?i)(sqlserver://|((server|data source)\s*=[^;]+;?.*(database|initial catalog)\s*=))`)

// passwordPattern masks credentials before anything leaves the process.
var passwordPattern = regexp.MustCompile(`(?i)(password|pwd)\s*=\s*[^;"']+`)
var urlCredPattern = regexp.MustCompile(`(sqlserver://[^:/@]+):[^@]+@`)

// xmlConnPattern pulls connectionString attributes out of web.config /
// app.config without a full XML parse.
var xmlConnPattern = regexp.MustCompile(`(?i)name\s*=\s*"([^"]+)"[^>]*connectionString\s*=\s*"([^"]+)"`)

// DiscoveredConnection is one connection string found in a project file,
// with credentials masked.
type DiscoveredConnection struct {
	File             string
	Source           string // env var name, json path or config entry name
	ConnectionString string
}

// DiscoverConnectionStrings scans a project directory for SQL Server
// connection strings in .env files, appsettings*.json and .config files.
// Passwords are masked in the returned strings.
func DiscoverConnectionStrings(root string) ([]DiscoveredConnection, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errInvalidArgument(fmt.Sprintf("cannot scan %q: %v", root, err))
	}
	if !info.IsDir() {
		return nil, errInvalidArgument(fmt.Sprintf("%q is not a directory", root))
	}

	var found []DiscoveredConnection
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			if depth(root, path) > discoveryMaxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		name := strings.ToLower(d.Name())
		switch {
		case name == ".env" || strings.HasSuffix(name, ".env"):
			found = append(found, scanEnvFile(path)...)
		case strings.HasPrefix(name, "appsettings") && strings.HasSuffix(name, ".json"):
			found = append(found, scanJSONFile(path)...)
		case strings.HasSuffix(name, ".config"):
			found = append(found, scanConfigFile(path)...)
		}
		return nil
	})
	if err != nil {
		return nil, errEngine("directory scan failed", err)
	}
	return found, nil
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator))
}

func readSmall(path string) ([]byte, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > discoveryMaxFileSize {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func scanEnvFile(path string) []DiscoveredConnection {
	data, ok := readSmall(path)
	if !ok {
		return nil
	}
	var found []DiscoveredConnection
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, hasEq := strings.Cut(line, "=")
		if !hasEq {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if connStringPattern.MatchString(value) {
			found = append(found, DiscoveredConnection{
				File:             path,
				Source:           strings.TrimSpace(key),
				ConnectionString: maskCredentials(value),
			})
		}
	}
	return found
}

func scanJSONFile(path string) []DiscoveredConnection {
	data, ok := readSmall(path)
	if !ok {
		return nil
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	var found []DiscoveredConnection
	walkJSON("", doc, func(jsonPath, value string) {
		if connStringPattern.MatchString(value) {
			found = append(found, DiscoveredConnection{
				File:             path,
				Source:           jsonPath,
				ConnectionString: maskCredentials(value),
			})
		}
	})
	return found
}

func walkJSON(prefix string, node any, visit func(path, value string)) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			p := key
			if prefix != "" {
				p = prefix + "." + key
			}
			walkJSON(p, child, visit)
		}
	case []any:
		for i, child := range v {
			walkJSON(fmt.Sprintf("%s[%d]", prefix, i), child, visit)
		}
	case string:
		visit(prefix, v)
	}
}

func scanConfigFile(path string) []DiscoveredConnection {
	data, ok := readSmall(path)
	if !ok {
		return nil
	}
	var found []DiscoveredConnection
	for _, match := range xmlConnPattern.FindAllStringSubmatch(string(data), -1) {
		if connStringPattern.MatchString(match[2]) {
			found = append(found, DiscoveredConnection{
				File:             path,
				Source:           match[1],
				ConnectionString: maskCredentials(match[2]),
			})
		}
	}
	return found
}

func maskCredentials(conn string) string {
	conn = passwordPattern.ReplaceAllString(conn, "$1=*****")
	conn = urlCredPattern.ReplaceAllString(conn, "$1:*****@")
	return conn
}
