// Package routing derives the scope of live traffic and picks the sessions
// that should receive it.
package routing

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/vladbarosan/oav-express/pkg/models"
)

// ErrInvalidURL is returned when a sample URL cannot be parsed
var ErrInvalidURL = errors.New("invalid sample url")

// APIVersionParam is the query parameter carrying the api version
const APIVersionParam = "api-version"

var providerPattern = regexp.MustCompile(`(?i)/providers/(:?[^{/]+)`)

// ProviderFromPath returns the namespace of the last /providers/{ns} segment
// of path, or "" when there is none.
func ProviderFromPath(path string) string {
	matches := providerPattern.FindAllStringSubmatch(path, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

// ExtractScope derives the (resourceProvider, apiVersion) of a request URL.
// Both absolute URLs and bare path+query forms are accepted.
func ExtractScope(rawURL string) (models.Scope, error) {
	if strings.TrimSpace(rawURL) == "" {
		return models.Scope{}, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return models.Scope{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return models.Scope{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return models.Scope{
		ResourceProvider: ProviderFromPath(u.Path),
		APIVersion:       query.Get(APIVersionParam),
	}, nil
}
