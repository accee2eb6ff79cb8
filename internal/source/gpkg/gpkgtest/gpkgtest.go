// Package gpkgtest writes small GeoPackage fixtures for tests.
package gpkgtest

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/vector-layer-cache/internal/source/gpkg"
)

type Feature struct {
	Geometry   geom.T
	Properties map[string]any
}

type Layer struct {
	Name         string
	GeometryType string
	// SRSID 0 leaves the layer's reference system undefined.
	SRSID int32
	// Extent is written to gpkg_contents when set; nil leaves it NULL.
	Extent   *[4]float64
	Columns  []string
	Features []Feature
}

var srs = map[int32][2]string{
	4326: {"WGS 84", "EPSG"},
	3857: {"WGS 84 / Pseudo-Mercator", "EPSG"},
	3395: {"WGS 84 / World Mercator", "EPSG"},
	4087: {"WGS 84 / World Equidistant Cylindrical", "EPSG"},
	3035: {"ETRS89-extended / LAEA Europe", "EPSG"},
}

// Write creates a GeoPackage at path holding the given layers.
func Write(t *testing.T, path string, layers ...Layer) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer db.Close()

	exec := func(q string, args ...any) {
		t.Helper()
		if _, err := db.Exec(q, args...); err != nil {
			t.Fatalf("exec %q: %v", q, err)
		}
	}

	exec(`CREATE TABLE gpkg_spatial_ref_sys (
		srs_name TEXT NOT NULL, srs_id INTEGER PRIMARY KEY, organization TEXT NOT NULL,
		organization_coordsys_id INTEGER NOT NULL, definition TEXT NOT NULL, description TEXT)`)
	exec(`CREATE TABLE gpkg_contents (
		table_name TEXT PRIMARY KEY, data_type TEXT NOT NULL, identifier TEXT, description TEXT DEFAULT '',
		last_change DATETIME, min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE, srs_id INTEGER)`)
	exec(`CREATE TABLE gpkg_geometry_columns (
		table_name TEXT NOT NULL, column_name TEXT NOT NULL, geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL, z TINYINT NOT NULL, m TINYINT NOT NULL)`)
	exec(`INSERT INTO gpkg_spatial_ref_sys VALUES ('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', NULL)`)
	exec(`INSERT INTO gpkg_spatial_ref_sys VALUES ('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', NULL)`)
	for id, v := range srs {
		exec(`INSERT INTO gpkg_spatial_ref_sys VALUES (?, ?, ?, ?, 'undefined', NULL)`, v[0], id, v[1], id)
	}

	for _, l := range layers {
		cols := []string{`"fid" INTEGER PRIMARY KEY AUTOINCREMENT`, `"geom" BLOB`}
		for _, c := range l.Columns {
			cols = append(cols, fmt.Sprintf("%q", c))
		}
		exec(fmt.Sprintf("CREATE TABLE %q (%s)", l.Name, strings.Join(cols, ", ")))

		var ext [4]any
		if l.Extent != nil {
			for i, v := range l.Extent {
				ext[i] = v
			}
		}
		exec(`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id)
			VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`, l.Name, l.Name, ext[0], ext[1], ext[2], ext[3], l.SRSID)
		exec(`INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', ?, ?, 0, 0)`, l.Name, l.GeometryType, l.SRSID)

		for _, f := range l.Features {
			names := []string{`"geom"`}
			marks := []string{"?"}
			var blob any
			if f.Geometry != nil {
				b, err := gpkg.Encode(f.Geometry, l.SRSID)
				if err != nil {
					t.Fatalf("encode geometry: %v", err)
				}
				blob = b
			}
			args := []any{blob}
			for _, c := range l.Columns {
				names = append(names, fmt.Sprintf("%q", c))
				marks = append(marks, "?")
				args = append(args, f.Properties[c])
			}
			exec(fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", l.Name, strings.Join(names, ", "), strings.Join(marks, ", ")), args...)
		}
	}
}
