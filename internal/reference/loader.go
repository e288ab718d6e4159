package reference

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed enums/*.yaml
var builtinFS embed.FS

// LoadEnumCatalog читает все enum-справочники из папки dir.
// Пустой dir: встроенные справочники.
func LoadEnumCatalog(dir string) (Catalogs, error) {
	if strings.TrimSpace(dir) == "" {
		sub, err := fs.Sub(builtinFS, "enums")
		if err != nil {
			return nil, err
		}
		return LoadEnumCatalogFS(sub)
	}
	return LoadEnumCatalogFS(os.DirFS(dir))
}

func LoadEnumCatalogFS(fsys fs.FS) (Catalogs, error) {
	result := make(Catalogs)
	files, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		var enumDir EnumDirectory
		if err := yaml.Unmarshal(data, &enumDir); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		// Имя справочника: из enumDir.Name или из имени файла
		if enumDir.Name == "" {
			enumDir.Name = strings.TrimSuffix(name, path.Ext(name))
		}
		result[enumDir.Name] = enumDir
	}
	return result, nil
}
