// Package migrations applies the embedded schema for each storage backend.
package migrations

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// sqlFiles returns the .sql files of dir in lexical order, which is apply order.
func sqlFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
