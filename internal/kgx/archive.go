// Package kgx reads and writes KGX-style graph exchange files: gzipped
// tar archives holding node and edge TSVs, headerless relation closure
// files, and flat TSV exports of denormalized tables.
package kgx

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/agentic-research/kgclose/internal/table"
)

// Archive member suffixes. KGX archives name their members
// <graph>_nodes.tsv and <graph>_edges.tsv.
const (
	nodesSuffix = "nodes.tsv"
	edgesSuffix = "edges.tsv"
)

// ReadArchive unpacks a gzipped tar archive and parses the single node
// file and single edge file inside it, located by name suffix. Dotfiles
// and non-regular entries are ignored. Zero or multiple candidates for
// either table is an error.
func ReadArchive(r io.Reader) (nodes, edges *table.Table, err error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("gzip: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Base(hdr.Name)
		if strings.HasPrefix(name, ".") {
			continue
		}
		switch {
		case strings.HasSuffix(name, nodesSuffix):
			if nodes != nil {
				return nil, nil, fmt.Errorf("archive has more than one node file, second is %s", hdr.Name)
			}
			if nodes, err = ReadTable(tr, "nodes"); err != nil {
				return nil, nil, fmt.Errorf("parse %s: %w", hdr.Name, err)
			}
		case strings.HasSuffix(name, edgesSuffix):
			if edges != nil {
				return nil, nil, fmt.Errorf("archive has more than one edge file, second is %s", hdr.Name)
			}
			if edges, err = ReadTable(tr, "edges"); err != nil {
				return nil, nil, fmt.Errorf("parse %s: %w", hdr.Name, err)
			}
		}
	}

	if nodes == nil {
		return nil, nil, fmt.Errorf("archive has no file matching *%s", nodesSuffix)
	}
	if edges == nil {
		return nil, nil, fmt.Errorf("archive has no file matching *%s", edgesSuffix)
	}
	return nodes, edges, nil
}
