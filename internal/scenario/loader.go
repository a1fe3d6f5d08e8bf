package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes one or more YAML documents, each a Scenario. Unknown keys
// are rejected.
func Parse(data []byte) ([]Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var out []Scenario
	for {
		var sc Scenario
		err := dec.Decode(&sc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// LoadDir reads every *.yaml and *.yml file in dir, in name order.
func LoadDir(dir string) ([]Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Scenario
	seen := map[string]string{}
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		scs, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, sc := range scs {
			if prev, ok := seen[sc.Name]; ok {
				return nil, fmt.Errorf("%s: scenario %q already defined in %s", path, sc.Name, prev)
			}
			seen[sc.Name] = path
			out = append(out, sc)
		}
	}
	return out, nil
}

// Merge appends extra to base, replacing base scenarios of the same name.
func Merge(base, extra []Scenario) []Scenario {
	idx := map[string]int{}
	out := append([]Scenario(nil), base...)
	for i, sc := range out {
		idx[sc.Name] = i
	}
	for _, sc := range extra {
		if i, ok := idx[sc.Name]; ok {
			out[i] = sc
			continue
		}
		idx[sc.Name] = len(out)
		out = append(out, sc)
	}
	return out
}
