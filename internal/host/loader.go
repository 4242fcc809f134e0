package host

import (
	"context"
	"fmt"
	"os"
)

// Documents are the four build artifacts the manager is initialized from.
type Documents struct {
	Catalog       []byte
	BundleCatalog []byte
	Config        []byte
	Downloadables []byte
}

// Loader fetches the current documents. It is called on every (re)load.
type Loader interface {
	Load(ctx context.Context) (Documents, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) (Documents, error)

func (f LoaderFunc) Load(ctx context.Context) (Documents, error) { return f(ctx) }

// FileLoader reads the documents from disk.
type FileLoader struct {
	CatalogPath       string
	BundleCatalogPath string
	ConfigPath        string
	DownloadablesPath string
}

func (l FileLoader) Load(_ context.Context) (Documents, error) {
	var (
		docs Documents
		err  error
	)

	files := []struct {
		path string
		dst  *[]byte
	}{
		{l.CatalogPath, &docs.Catalog},
		{l.BundleCatalogPath, &docs.BundleCatalog},
		{l.ConfigPath, &docs.Config},
		{l.DownloadablesPath, &docs.Downloadables},
	}

	for _, f := range files {
		*f.dst, err = os.ReadFile(f.path)
		if err != nil {
			return Documents{}, fmt.Errorf("failed to read %s: %w", f.path, err)
		}
	}

	return docs, nil
}
