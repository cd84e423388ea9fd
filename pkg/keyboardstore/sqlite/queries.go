package sqlite

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

type KeyboardRow struct {
	ID       int64
	Name     string
	LdmlFile string
	Keys     int64
	SeenAt   int64
}

const insertKeyboard = `
insert into keyboards (name, ldml_file, keys, seen_at)
values (?, ?, ?, ?)
`

type InsertKeyboardParams struct {
	Name     string
	LdmlFile string
	Keys     int64
	SeenAt   int64
}

func (q *Queries) InsertKeyboard(ctx context.Context, arg InsertKeyboardParams) error {
	_, err := q.db.ExecContext(ctx, insertKeyboard, arg.Name, arg.LdmlFile, arg.Keys, arg.SeenAt)
	return err
}

const getLastKeyboard = `
select id, name, ldml_file, keys, seen_at
from keyboards
order by id desc
limit 1
`

func (q *Queries) GetLastKeyboard(ctx context.Context) (KeyboardRow, error) {
	row := q.db.QueryRowContext(ctx, getLastKeyboard)
	var i KeyboardRow
	err := row.Scan(&i.ID, &i.Name, &i.LdmlFile, &i.Keys, &i.SeenAt)
	return i, err
}

const dumpTables = `
select sql from sqlite_master
where type = 'table' and name not like 'sqlite_%' and name != 'schema_migrations'
order by name
`

func (q *Queries) DumpTables(ctx context.Context) ([]*string, error) {
	return q.dump(ctx, dumpTables)
}

const dumpRest = `
select sql from sqlite_master
where type != 'table' and sql is not null and tbl_name != 'schema_migrations'
order by name
`

func (q *Queries) DumpRest(ctx context.Context) ([]*string, error) {
	return q.dump(ctx, dumpRest)
}

func (q *Queries) dump(ctx context.Context, query string) ([]*string, error) {
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*string
	for rows.Next() {
		var stmt *string
		if err := rows.Scan(&stmt); err != nil {
			return nil, err
		}
		items = append(items, stmt)
	}

	return items, rows.Err()
}
