package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"golang.org/x/sync/errgroup"
)

// DefaultLoadConcurrency is the number of files read in parallel by LoadFS.
const DefaultLoadConcurrency = 8

// LoadFS reads every regular file below root into a new Set. Logical paths
// are relative to root and use forward slashes. Artifacts are added in
// lexical path order regardless of the order reads complete in.
func LoadFS(ctx context.Context, fs billy.Filesystem, root string, concurrency int) (*Set, error) {
	if concurrency <= 0 {
		concurrency = DefaultLoadConcurrency
	}

	var files []string

	err := util.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		files = append(files, path)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory %s: %w", root, err)
	}

	sort.Strings(files)

	contents := make([][]byte, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, file := range files {
		i, file := i, file

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			data, err := util.ReadFile(fs, file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}

			contents[i] = data

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := NewSet()

	for i, file := range files {
		rel, err := logicalPath(root, file)
		if err != nil {
			return nil, err
		}

		set.Add(rel, contents[i])
	}

	return set, nil
}

// Prune removes the files backing the given logical paths from fs.
// Missing files are ignored.
func Prune(fs billy.Filesystem, root string, paths []string) error {
	for _, p := range paths {
		full := fs.Join(root, filepath.FromSlash(p))

		if err := fs.Remove(full); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", full, err)
		}
	}

	return nil
}

func logicalPath(root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", fmt.Errorf("computing relative path for %s: %w", file, err)
	}

	return filepath.ToSlash(rel), nil
}
