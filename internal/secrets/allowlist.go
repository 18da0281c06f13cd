package secrets

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist contains patterns to exclude from secret detection.
type Allowlist struct {
	Paths     []string // File path regex patterns to ignore
	Regexes   []string // Content regex patterns to ignore
	StopWords []string // Literal substrings that mark a match as benign
}

// LoadAllowlist loads an allowlist TOML file. An empty path or a
// missing file yields an empty allowlist; invalid TOML or regex
// patterns return errors.
//
// Expected schema:
//
//	[allowlist]
//	paths = ['''fixtures/.*''']
//	regexes = ['''EXAMPLE_KEY''']
//	stopwords = ["placeholder"]
func LoadAllowlist(path string) (*Allowlist, error) {
	empty := &Allowlist{}
	if path == "" {
		return empty, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return empty, nil
		}
		return nil, err
	}

	var file struct {
		Allowlist struct {
			Paths     []string
			Regexes   []string
			Stopwords []string
		}
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	// Validate patterns fail-fast so a broken allowlist is caught at
	// startup, not mid-request.
	for _, pattern := range file.Allowlist.Paths {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: invalid path pattern '%s' in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}
	for _, pattern := range file.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: invalid content pattern '%s' in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Paths:     file.Allowlist.Paths,
		Regexes:   file.Allowlist.Regexes,
		StopWords: file.Allowlist.Stopwords,
	}, nil
}
