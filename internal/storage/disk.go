package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// sqliteSidecars are the files SQLite keeps next to the database in WAL mode.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// DiskFootprint is the on-disk size of each persisted component, in bytes.
type DiskFootprint struct {
	Database     int64 `json:"database"`
	Snapshot     int64 `json:"snapshot"`
	KeywordIndex int64 `json:"keyword_index"`
}

// Total returns the summed footprint.
func (d DiskFootprint) Total() int64 {
	return d.Database + d.Snapshot + d.KeywordIndex
}

// Footprint measures the database (with its WAL sidecars), the graph snapshot and the
// keyword index directory. Missing paths count as zero and ":memory:" databases are
// skipped.
func Footprint(databasePath, snapshotPath, keywordIndexPath string) (DiskFootprint, error) {
	var fp DiskFootprint
	var err error
	if databasePath != "" && databasePath != ":memory:" {
		paths := []string{databasePath}
		for _, suffix := range sqliteSidecars {
			paths = append(paths, databasePath+suffix)
		}
		if fp.Database, err = DiskUsageBytes(paths...); err != nil {
			return fp, err
		}
	}
	if fp.Snapshot, err = DiskUsageBytes(snapshotPath); err != nil {
		return fp, err
	}
	if fp.KeywordIndex, err = DiskUsageBytes(keywordIndexPath); err != nil {
		return fp, err
	}
	return fp, nil
}

// DiskUsageBytes returns the total size of the given files and directories. Missing
// paths, and entries removed while a directory is walked, contribute zero.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		n, err := dirSize(p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
