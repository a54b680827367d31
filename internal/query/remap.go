package query

// Remap renames provider-generated attribute names in row back to the names the
// query asked for. The row is modified in place and returned.
//
// A plain aliased column moves its value from the source name to the alias.
// A function column moves the value stored under its synthesized key (see
// Column.FunctionKey) to the alias, or leaves it in place when the column has
// no alias. Wildcard columns are never renamed. Applying Remap twice gives the
// same row as applying it once.
func Remap(row *Row, descriptor Descriptor) *Row {
	if row == nil {
		return nil
	}
	for _, column := range descriptor.Columns {
		switch column.Kind {
		case KindPlain:
			if column.Alias == "" || column.SourceName == "" || column.Alias == column.SourceName {
				continue
			}
			value, ok := row.Get(column.SourceName)
			if !ok {
				continue
			}
			row.Set(column.Alias, value)
			row.Delete(column.SourceName)
		case KindFunction:
			key := column.FunctionKey()
			value, ok := row.Get(key)
			if !ok {
				continue
			}
			alias := column.Alias
			if alias == "" || alias == key {
				continue
			}
			row.Set(alias, value)
			row.Delete(key)
		}
	}
	return row
}
