package pack

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/target"
)

var packExtensions = map[string]bool{
	".bsd":  true,
	".bsdl": true,
	".bsm":  true,
}

// IsPackFile reports whether path has a pack file extension.
func IsPackFile(path string) bool {
	return packExtensions[strings.ToLower(filepath.Ext(path))]
}

// Load reads every definition from path, which is either a pack file or a
// directory searched recursively for pack files. Errors from individual files
// of a directory are combined.
func (p *Parser) Load(path string) ([]target.Definition, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}
	if !st.IsDir() {
		return p.ParseFile(path)
	}

	var files []string
	err = filepath.WalkDir(path, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsPackFile(name) {
			files = append(files, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pack: walk %s: %w", path, err)
	}
	sort.Strings(files)

	var (
		defs []target.Definition
		errs error
	)
	for _, f := range files {
		d, err := p.ParseFile(f)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		defs = append(defs, d...)
	}
	if errs != nil {
		return nil, errs
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("pack: no pack files in %s", path)
	}
	return defs, nil
}

// PopulateFromPack loads each path and merges all definitions into reg,
// replacing entries of the same name. Nothing is registered when any path
// fails to load.
func PopulateFromPack(reg *target.Registry, paths ...string) ([]target.Definition, error) {
	p, err := NewParser()
	if err != nil {
		return nil, err
	}
	var (
		defs []target.Definition
		errs error
	)
	for _, path := range paths {
		d, err := p.Load(path)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		defs = append(defs, d...)
	}
	if errs != nil {
		return nil, errs
	}
	for _, def := range defs {
		reg.RegisterDefinition(def)
	}
	return defs, nil
}
