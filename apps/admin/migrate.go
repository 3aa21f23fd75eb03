package main

import (
	"context"

	"github.com/trezcool/masomo-dash/storage/database"
)

var gooseRunFunc = database.RunMigrations // mockable

func (cli *commandLine) migrate(ctx context.Context, args []string) error {
	db, err := cli.openDB()
	if err != nil {
		return err
	}
	return gooseRunFunc(ctx, db.DB, args[0], args[1:]...)
}
