// Package msi reads Windows Installer (.msi) packages: the compound
// file container, the packed stream names, the shared string pool, the
// column-major database tables, and the cabinet archives the payload
// files ship in.
//
// A package is opened once and then queried; all access is read-only
// and safe for concurrent readers.
//
// # Quick Start
//
// Open a package and walk a table:
//
//	p, err := msi.Open("product.msi")
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	t, err := p.Table("File")
//	if err != nil {
//	    return err
//	}
//	name := t.ColumnIndex("FileName")
//	for row := range t.Rows() {
//	    fmt.Println(msi.ParseName(row.String(name)).Long())
//	}
//
// # Names
//
// Filename and directory cells store combined names: an optional short
// (8.3) form separated from the long form by '|', and for directories
// an optional source name separated from the target by ':'. [Name] and
// [DirectoryName] split these lazily without copying:
//
//	n := msi.ParseDirectoryName("SRCDIR:SHORT|Long Name")
//	n.Target().Long()   // "Long Name"
//	src, _ := n.Source()
//	src.Long()          // "SRCDIR"
//
// # Directory Layout
//
// [Package.DirectoryTree] resolves the Directory table's parent links
// into full install and source paths, honoring the '.' entries that
// alias their parent.
//
// # Payload
//
// Media rows name the cabinets holding the package's files; cabinets
// embedded as streams open directly:
//
//	for _, m := range media {
//	    if m.IsEmbedded() {
//	        c, err := p.OpenCabinet(m.Cabinet)
//	        ...
//	    }
//	}
package msi
