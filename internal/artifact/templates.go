package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/autolock/internal/protocol"
)

// LoadTemplates reads <dir>/<protocol>/*.txt for every family, sorted by
// file name. A missing family directory contributes no templates.
func LoadTemplates(dir string) ([]Template, error) {
	var out []Template
	for _, p := range protocol.All {
		sub := filepath.Join(dir, string(p))
		entries, err := os.ReadDir(sub)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read templates %s: %w", sub, err)
		}

		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			data, err := os.ReadFile(filepath.Join(sub, name))
			if err != nil {
				return nil, fmt.Errorf("read template %s: %w", name, err)
			}
			out = append(out, Template{Protocol: p, Name: name, Content: string(data)})
		}
	}
	return out, nil
}
