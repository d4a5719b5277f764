package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/model"
)

// ValidateRepoURL checks that the URL is https and parses to owner/repo.
func ValidateRepoURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidRequest, "invalid repository url", err)
	}
	if u.Scheme != "https" {
		return apperr.New(apperr.CodeInvalidRequest, "repository url must use https")
	}
	parts := strings.Split(strings.Trim(strings.TrimSuffix(u.Path, ".git"), "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return apperr.New(apperr.CodeInvalidRequest, "repository url must include owner and repository")
	}
	return nil
}

// CloneOptions bounds a source-control fetch.
type CloneOptions struct {
	Branch       string
	Exclude      []string
	MaxFiles     int
	MaxFileBytes int64
}

// CloneAndCollect shallow-clones the repository and walks its tree,
// skipping excluded directories, reading only utf-8-decodable files below
// the size cap, and enforcing the file-count cap. A missing branch falls
// back to the repository default.
func CloneAndCollect(ctx context.Context, repoURL string, opts CloneOptions, logger *zap.Logger) ([]model.SourceFile, error) {
	if err := ValidateRepoURL(repoURL); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "atlas-clone-*")
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "create clone directory", err)
	}
	defer os.RemoveAll(dir)

	if err := gitClone(ctx, repoURL, dir, opts.Branch); err != nil {
		if opts.Branch == "" {
			return nil, err
		}
		logger.Warn("branch clone failed, falling back to default branch",
			zap.String("branch", opts.Branch), zap.Error(err))
		if err := gitClone(ctx, repoURL, dir, ""); err != nil {
			return nil, err
		}
	}

	return CollectFiles(dir, opts)
}

func gitClone(ctx context.Context, repoURL, dir, branch string) error {
	// A previous failed attempt may have left a partial checkout.
	entries, _ := os.ReadDir(dir)
	for _, entry := range entries {
		os.RemoveAll(filepath.Join(dir, entry.Name()))
	}

	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, repoURL, dir)

	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return apperr.Wrap(apperr.CodeInvalidRequest,
			fmt.Sprintf("git clone failed: %s", strings.TrimSpace(string(out))), err)
	}
	return nil
}

// CollectFiles walks a checkout and returns the ingestible files with
// paths relative to root.
func CollectFiles(root string, opts CloneOptions) ([]model.SourceFile, error) {
	var files []model.SourceFile

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && excluded(rel, opts.Exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if excluded(rel, opts.Exclude) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if opts.MaxFileBytes > 0 && info.Size() > opts.MaxFileBytes {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if !utf8.Valid(content) {
			return nil
		}

		files = append(files, model.SourceFile{Path: rel, Content: string(content)})
		if opts.MaxFiles > 0 && len(files) > opts.MaxFiles {
			return apperr.Newf(apperr.CodeInvalidRequest,
				"repository exceeds the %d file limit", opts.MaxFiles)
		}
		return nil
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "walk repository", err)
	}
	return files, nil
}

// excluded matches the path and each of its ancestors against the exclude
// globs; a bare directory name matches at any depth.
func excluded(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		for _, segment := range strings.Split(rel, "/") {
			if ok, _ := doublestar.Match(pattern, segment); ok {
				return true
			}
		}
	}
	return false
}
