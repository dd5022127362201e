/*
Package storage provides BoltDB-backed persistence for digest group configurations.

The storage package implements the Store interface using BoltDB (bbolt) as an
embedded transactional database. It is the source of truth for which groups
should have a summary job: the reconciler enumerates its keys and compares them
with the jobs registered in the scheduler.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/digest.db                │          │
	│  │  - Open timeout: 1s (file lock)             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  groups   (decimal group ID -> JSON config) │          │
	│  └────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────┘

# Invalid Records

A record is invalid when its key is not a run of decimal digits, its value is
not JSON, or the decoded GroupConfig fails validation. Invalid records can be
left behind by older releases or manual edits. They are:

  - returned by ListGroupKeys (every enumerable key)
  - skipped by ListGroups
  - removed by CleanupInvalidGroups, which reports how many were deleted

# Import and Export

ImportYAML and ExportYAML move group sets in and out of the store using the
GroupFile YAML document. Import is an upsert and skips invalid entries instead
of failing the whole file.

	f, _ := os.Open("groups.yaml")
	result, err := storage.ImportYAML(store, f)
	fmt.Printf("imported %d, skipped %v\n", result.Imported, result.Skipped)
*/
package storage
