// Package specsource fetches the interface-definition documents a session
// validates against into a local directory.
package specsource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/vladbarosan/oav-express/pkg/models"
)

// DefaultRepoURL is used when a session does not name a repository
const DefaultRepoURL = "https://github.com/vladbarosan/sample-openapi-specs"

// ErrSourceUnavailable is returned when definitions cannot be fetched
var ErrSourceUnavailable = errors.New("spec source unavailable")

// Source makes the definitions of src available on local disk and returns
// the directory holding them.
type Source interface {
	Fetch(ctx context.Context, src models.SpecSource) (string, error)
}

// PathPattern returns the glob selecting definition files for a scope.
// Scoped sessions only load the provider/version subtree.
func PathPattern(scope models.Scope) string {
	if scope.ResourceProvider != "" && scope.APIVersion != "" {
		return fmt.Sprintf("/specification/**/%s/%s/**/*.json", scope.ResourceProvider, scope.APIVersion)
	}
	return "**/*.json"
}

// WithDefaults fills the repository and path pattern of src
func WithDefaults(src models.SpecSource, scope models.Scope, defaultRepo string) models.SpecSource {
	if src.RepoURL == "" {
		src.RepoURL = defaultRepo
		if src.RepoURL == "" {
			src.RepoURL = DefaultRepoURL
		}
	}
	if src.PathPattern == "" {
		src.PathPattern = PathPattern(scope)
	}
	return src
}

// LocalSource serves file:// URLs and plain directories
type LocalSource struct{}

// Fetch returns the directory named by src.RepoURL
func (LocalSource) Fetch(ctx context.Context, src models.SpecSource) (string, error) {
	dir, ok := localPath(src.RepoURL)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a local path", ErrSourceUnavailable, src.RepoURL)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrSourceUnavailable, dir)
	}
	return dir, nil
}

func localPath(repoURL string) (string, bool) {
	if strings.HasPrefix(repoURL, "file://") {
		u, err := url.Parse(repoURL)
		if err != nil {
			return "", false
		}
		return filepath.FromSlash(u.Path), true
	}
	if filepath.IsAbs(repoURL) || strings.HasPrefix(repoURL, "./") || strings.HasPrefix(repoURL, "../") {
		return repoURL, true
	}
	return "", false
}

// Resolver picks the local source for filesystem locations and the git
// source for everything else
type Resolver struct {
	Local LocalSource
	Git   Source
}

// NewResolver creates a resolver cloning remote repositories with git
func NewResolver(git Source) *Resolver {
	return &Resolver{Git: git}
}

// Fetch dispatches on the repository location
func (r *Resolver) Fetch(ctx context.Context, src models.SpecSource) (string, error) {
	if _, ok := localPath(src.RepoURL); ok {
		return r.Local.Fetch(ctx, src)
	}
	if r.Git == nil {
		return "", fmt.Errorf("%w: remote repositories are not enabled", ErrSourceUnavailable)
	}
	return r.Git.Fetch(ctx, src)
}
