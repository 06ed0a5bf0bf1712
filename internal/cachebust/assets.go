// Package cachebust stamps references to static assets in built HTML pages
// with the asset's modification time, so browsers fetch changed stylesheets
// instead of serving stale cached copies.
//
// A reference such as href="style.css" becomes href="style.css?m=1700000000".
// Re-running over unchanged files leaves every page byte-identical.
package cachebust

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Asset is a static file whose references get version-stamped
type Asset struct {
	Path    string // absolute or dir-joined path on disk
	RelPath string // slash-separated path relative to the scanned root
	Name    string // base name
	Version string // modification time, Unix seconds
}

// Scan walks dir and returns the assets and pages it contains, matched by
// extension (case-insensitive). Hidden files and directories are skipped.
// Both slices are sorted by relative path.
func Scan(dir string, assetExts, pageExts []string) ([]Asset, []string, error) {
	assetSet := extSet(assetExts)
	pageSet := extSet(pageExts)

	var assets []Asset
	var pages []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Skip hidden files and directories (e.g. .doctrees, .buildinfo)
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		switch {
		case assetSet[ext]:
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			assets = append(assets, Asset{
				Path:    path,
				RelPath: filepath.ToSlash(rel),
				Name:    d.Name(),
				Version: strconv.FormatInt(info.ModTime().Unix(), 10),
			})
		case pageSet[ext]:
			pages = append(pages, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].RelPath < assets[j].RelPath })
	sort.Strings(pages)
	return assets, pages, nil
}

func extSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(ext)] = true
	}
	return set
}

// referenceKey returns the shortest trailing slash-path of the asset that no
// other asset's path ends with. When every suffix is shared (an asset at the
// root next to a nested asset of the same name) the full relative path is
// used; the longest-match rule in Rewrite then keeps the two apart.
func referenceKey(asset Asset, all []Asset) string {
	parts := strings.Split(asset.RelPath, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		suffix := strings.Join(parts[i:], "/")
		if !sharedSuffix(suffix, asset.RelPath, all) {
			return suffix
		}
	}
	return asset.RelPath
}

func sharedSuffix(suffix, self string, all []Asset) bool {
	for _, other := range all {
		if other.RelPath == self {
			continue
		}
		if other.RelPath == suffix || strings.HasSuffix(other.RelPath, "/"+suffix) {
			return true
		}
	}
	return false
}
