package msi

import (
	"encoding/binary"
	"fmt"
	"iter"
	"strconv"
)

// ColumnType is the raw column attribute bitfield from the !_Columns
// table.
type ColumnType uint16

// Column attribute bits.
const (
	ColumnValid       ColumnType = 0x0100
	ColumnLocalizable ColumnType = 0x0200
	ColumnString      ColumnType = 0x0800
	ColumnNullable    ColumnType = 0x1000
	ColumnKey         ColumnType = 0x2000
)

// IsString reports whether cells of this column are string references.
func (t ColumnType) IsString() bool { return t&ColumnString != 0 }

// IsNullable reports whether the column accepts null cells.
func (t ColumnType) IsNullable() bool { return t&ColumnNullable != 0 }

// IsKey reports whether the column is part of the primary key.
func (t ColumnType) IsKey() bool { return t&ColumnKey != 0 }

// IsLocalizable reports whether the column is marked localizable.
func (t ColumnType) IsLocalizable() bool { return t&ColumnLocalizable != 0 }

// Width returns the declared width: the byte width for integer columns
// (2 or 4), the maximum length for string columns (0 = unlimited).
func (t ColumnType) Width() int { return int(t & 0xFF) }

// String renders the column type in the installer's compact signature
// notation: s72, L255, i2, and so on. Uppercase letters mark nullable
// columns.
func (t ColumnType) String() string {
	letter := byte('i')
	if t.IsString() {
		letter = 's'
		if t.IsLocalizable() {
			letter = 'l'
		}
	}
	if t.IsNullable() {
		letter -= 'a' - 'A'
	}
	return string(letter) + strconv.Itoa(t.Width())
}

// Column describes one column of an installer table.
type Column struct {
	Name   string
	Number int
	Type   ColumnType
}

// Table provides read-only access to one installer table.
//
// Rows are stored column-major in the table's stream; Table decodes
// cells on demand against the package's string pool. A Table and the
// Rows it hands out remain valid independently of the Package once
// returned.
type Table struct {
	name       string
	columns    []Column
	pool       *StringPool
	data       []byte
	rowCount   int
	cellWidths []int
	colOffsets []int
}

func newTable(name string, columns []Column, pool *StringPool, data []byte) (*Table, error) {
	t := &Table{
		name:       name,
		columns:    columns,
		pool:       pool,
		data:       data,
		cellWidths: make([]int, len(columns)),
		colOffsets: make([]int, len(columns)),
	}
	rowWidth := 0
	for i, col := range columns {
		w := 2
		if col.Type.IsString() {
			w = pool.refSize()
		} else if col.Type.Width() == 4 {
			w = 4
		}
		t.cellWidths[i] = w
		rowWidth += w
	}
	if len(data) == 0 || rowWidth == 0 {
		return t, nil
	}
	if len(data)%rowWidth != 0 {
		return nil, fmt.Errorf("%w: table %s stream is %d bytes, row width %d", ErrCorrupt, name, len(data), rowWidth)
	}
	t.rowCount = len(data) / rowWidth
	off := 0
	for i := range columns {
		t.colOffsets[i] = off
		off += t.rowCount * t.cellWidths[i]
	}
	return t, nil
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Columns returns the table's columns in declaration order. The
// returned slice is shared and must not be modified.
func (t *Table) Columns() []Column {
	return t.columns
}

// ColumnIndex returns the index of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, col := range t.columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return t.rowCount
}

// Row returns a view of the i-th row.
func (t *Table) Row(i int) Row {
	return Row{table: t, index: i}
}

// Rows returns an iterator over all rows.
func (t *Table) Rows() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for i := range t.rowCount {
			if !yield(Row{table: t, index: i}) {
				return
			}
		}
	}
}

// Row is a read-only view of one table row.
type Row struct {
	table *Table
	index int
}

// Index returns the row's position in the table.
func (r Row) Index() int {
	return r.index
}

// cell returns the raw stored value of a cell.
func (r Row) cell(col int) uint32 {
	t := r.table
	w := t.cellWidths[col]
	off := t.colOffsets[col] + r.index*w
	b := t.data[off : off+w]
	switch w {
	case 3:
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	case 4:
		return binary.LittleEndian.Uint32(b)
	default:
		return uint32(binary.LittleEndian.Uint16(b))
	}
}

// IsNull reports whether the cell is null. String cells are null when
// they reference the empty string.
func (r Row) IsNull(col int) bool {
	return r.cell(col) == 0
}

// Int returns the integer value of a cell. ok is false for null cells.
// Stored values are biased so that zero marks null; the bias is removed
// here.
func (r Row) Int(col int) (v int, ok bool) {
	raw := r.cell(col)
	if raw == 0 {
		return 0, false
	}
	if r.table.cellWidths[col] == 4 {
		return int(int64(raw) - 0x80000000), true
	}
	return int(int32(raw)) - 0x8000, true
}

// String returns the cell rendered as text: string cells resolve
// through the pool, integer cells format in decimal, null cells are
// empty.
func (r Row) String(col int) string {
	if r.table.columns[col].Type.IsString() {
		return r.table.pool.Get(int(r.cell(col)))
	}
	if v, ok := r.Int(col); ok {
		return strconv.Itoa(v)
	}
	return ""
}
