package downloadables

import (
	"fmt"
	"strings"
)

// Document names an input artifact produced by the build pipeline.
type Document string

const (
	DocumentCatalog              Document = "catalog"
	DocumentBundleCatalog        Document = "bundle_catalog"
	DocumentDownloadablesCatalog Document = "downloadables_catalog"
	DocumentConfig               Document = "downloadables_config"
)

// CatalogError reports a malformed input document. The manager stays
// uninitialized when Initialize sees one.
type CatalogError struct {
	Document Document
	Reason   string
	Err      error
}

func (e *CatalogError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s: %s: %v", e.Document, e.Reason, e.Err)
	}

	return fmt.Sprintf("malformed %s: %s", e.Document, e.Reason)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// FileDescriptor is a catalog-owned bundle entry. It is never mutated here.
type FileDescriptor struct {
	Name    string
	URL     string
	Size    int64
	Hash    string
	Version string
}

// Group is an independently schedulable unit of content.
type Group struct {
	ID         string
	Files      []FileDescriptor
	Priority   int
	TotalBytes int64

	// seq is the registration order, used to break priority ties.
	seq int
}

// Catalog is the immutable view of the parsed input documents.
type Catalog struct {
	Version       string
	BundleVersion string
	Groups        []Group

	byID      map[string]int
	keyBundle map[string]string
}

type addressablesDocument struct {
	Version   string `json:"version"`
	Locations []struct {
		Key    string `json:"key"`
		Bundle string `json:"bundle"`
	} `json:"locations"`
}

type bundleDocument struct {
	Version string `json:"version"`
	Bundles map[string]struct {
		URL     string `json:"url"`
		Size    int64  `json:"size"`
		Hash    string `json:"hash"`
		Version string `json:"version"`
	} `json:"bundles"`
}

type downloadablesDocument struct {
	Groups []struct {
		ID       string   `json:"id"`
		Priority int      `json:"priority"`
		Bundles  []string `json:"bundles"`
	} `json:"groups"`
}

// ParseCatalog builds the group registry from the three catalog documents.
func ParseCatalog(catalog, bundleCatalog, downloadablesCatalog []byte) (*Catalog, error) {
	var addr addressablesDocument
	if err := decodeDocument(catalog, &addr); err != nil {
		return nil, &CatalogError{Document: DocumentCatalog, Reason: "invalid json", Err: err}
	}

	var bundles bundleDocument
	if err := decodeDocument(bundleCatalog, &bundles); err != nil {
		return nil, &CatalogError{Document: DocumentBundleCatalog, Reason: "invalid json", Err: err}
	}

	var dl downloadablesDocument
	if err := decodeDocument(downloadablesCatalog, &dl); err != nil {
		return nil, &CatalogError{Document: DocumentDownloadablesCatalog, Reason: "invalid json", Err: err}
	}

	c := &Catalog{
		Version:       addr.Version,
		BundleVersion: bundles.Version,
		byID:          make(map[string]int, len(dl.Groups)),
		keyBundle:     make(map[string]string, len(addr.Locations)),
	}

	for name, b := range bundles.Bundles {
		if b.Size < 0 {
			return nil, &CatalogError{Document: DocumentBundleCatalog, Reason: fmt.Sprintf("bundle %q has negative size", name)}
		}

		if strings.TrimSpace(b.URL) == "" {
			return nil, &CatalogError{Document: DocumentBundleCatalog, Reason: fmt.Sprintf("bundle %q has no url", name)}
		}
	}

	for _, loc := range addr.Locations {
		if _, ok := bundles.Bundles[loc.Bundle]; !ok {
			return nil, &CatalogError{Document: DocumentCatalog, Reason: fmt.Sprintf("key %q references unknown bundle %q", loc.Key, loc.Bundle)}
		}

		c.keyBundle[loc.Key] = loc.Bundle
	}

	for i, g := range dl.Groups {
		if strings.TrimSpace(g.ID) == "" {
			return nil, &CatalogError{Document: DocumentDownloadablesCatalog, Reason: fmt.Sprintf("group at index %d has no id", i)}
		}

		if _, dup := c.byID[g.ID]; dup {
			return nil, &CatalogError{Document: DocumentDownloadablesCatalog, Reason: fmt.Sprintf("duplicate group id %q", g.ID)}
		}

		group := Group{ID: g.ID, Priority: g.Priority, seq: i}

		for _, name := range g.Bundles {
			b, ok := bundles.Bundles[name]
			if !ok {
				return nil, &CatalogError{Document: DocumentDownloadablesCatalog, Reason: fmt.Sprintf("group %q references unknown bundle %q", g.ID, name)}
			}

			group.Files = append(group.Files, FileDescriptor{
				Name:    name,
				URL:     b.URL,
				Size:    b.Size,
				Hash:    b.Hash,
				Version: b.Version,
			})
			group.TotalBytes += b.Size
		}

		c.byID[g.ID] = len(c.Groups)
		c.Groups = append(c.Groups, group)
	}

	return c, nil
}

// Group looks a group up by id.
func (c *Catalog) Group(id string) (Group, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Group{}, false
	}

	return c.Groups[i], true
}

// GroupsForKey returns the ids of groups shipping the bundle an asset key lives in.
func (c *Catalog) GroupsForKey(key string) []string {
	bundle, ok := c.keyBundle[key]
	if !ok {
		return nil
	}

	var ids []string

	for _, g := range c.Groups {
		for _, f := range g.Files {
			if f.Name == bundle {
				ids = append(ids, g.ID)

				break
			}
		}
	}

	return ids
}

// BundleNames lists every bundle referenced by a group.
func (c *Catalog) BundleNames() []string {
	seen := make(map[string]struct{})

	var names []string

	for _, g := range c.Groups {
		for _, f := range g.Files {
			if _, ok := seen[f.Name]; ok {
				continue
			}

			seen[f.Name] = struct{}{}
			names = append(names, f.Name)
		}
	}

	return names
}
