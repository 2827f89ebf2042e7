package database

import (
	"github.com/huandu/go-sqlbuilder"
)

// Now renders the database clock, used for audit timestamps.
func Now() any {
	return sqlbuilder.Raw("NOW()")
}

// NextTimestamp renders a timestamp guaranteed to be later than column even
// when two writes land inside the same clock tick.
func NextTimestamp(column string) any {
	return sqlbuilder.Raw("GREATEST(NOW(), " + column + " + INTERVAL '1 microsecond')")
}

func NewInsertBuilder() *sqlbuilder.InsertBuilder {
	return sqlbuilder.PostgreSQL.NewInsertBuilder()
}

func NewUpdateBuilder() *sqlbuilder.UpdateBuilder {
	return sqlbuilder.PostgreSQL.NewUpdateBuilder()
}

func NewSelectBuilder() *sqlbuilder.SelectBuilder {
	return sqlbuilder.PostgreSQL.NewSelectBuilder()
}

type Struct struct {
	*sqlbuilder.Struct
}

func NewStruct(v any) *Struct {
	return &Struct{sqlbuilder.NewStruct(v).For(sqlbuilder.PostgreSQL)}
}

// SelectFrom selects every db-tagged column of the struct from table.
func (s *Struct) SelectFrom(table string) *sqlbuilder.SelectBuilder {
	return s.Struct.SelectFrom(table)
}
