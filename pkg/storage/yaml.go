package storage

import (
	"io"
	"sort"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/digest/pkg/types"
)

// GroupFile is the YAML document used to seed or back up group configurations
//
//	groups:
//	  "123456":
//	    hour: 22
//	    minute: 30
//	    least_message_count: 200
//	    style: concise
type GroupFile struct {
	Groups map[string]types.GroupConfig `yaml:"groups"`
}

// ImportResult summarizes an import
type ImportResult struct {
	Imported int
	Skipped  []string
}

// ImportYAML reads a GroupFile and stores every valid entry.
// Entries with an invalid key or config are skipped and reported, not fatal.
func ImportYAML(s Store, r io.Reader) (ImportResult, error) {
	var result ImportResult

	var file GroupFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return result, nil
		}
		return result, errors.Wrap(err, "failed to parse group file")
	}

	keys := make([]string, 0, len(file.Groups))
	for k := range file.Groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		id, err := types.ParseGroupID(key)
		if err != nil {
			result.Skipped = append(result.Skipped, key)
			continue
		}
		cfg := file.Groups[key]
		if err := cfg.Validate(); err != nil {
			result.Skipped = append(result.Skipped, key)
			continue
		}
		if err := s.PutGroup(id, &cfg); err != nil {
			return result, errors.Wrapf(err, "failed to store group %s", key)
		}
		result.Imported++
	}

	return result, nil
}

// ExportYAML writes every valid group configuration as a GroupFile
func ExportYAML(s Store, w io.Writer) error {
	groups, err := s.ListGroups()
	if err != nil {
		return errors.Wrap(err, "failed to list groups")
	}

	file := GroupFile{Groups: make(map[string]types.GroupConfig, len(groups))}
	for id, cfg := range groups {
		file.Groups[id.String()] = *cfg
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&file); err != nil {
		return errors.Wrap(err, "failed to encode group file")
	}
	return enc.Close()
}
