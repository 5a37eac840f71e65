package catalog

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Load reads the catalog from path, or the embedded default when path is
// empty. Staging environments override the file without a rebuild.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalog.Load: %w", err)
		}
	}
	return Parse(data)
}
