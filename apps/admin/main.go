package main

import (
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/masomo-dash/core"
	"github.com/trezcool/masomo-dash/core/collection"
	logsvc "github.com/trezcool/masomo-dash/services/logger"
	"github.com/trezcool/masomo-dash/storage/database"
	"github.com/trezcool/masomo-dash/storage/remote"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewConsoleLogger(os.Stderr, conf, "ADMIN")

	var db *sqlx.DB
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	// start CLI
	cli := commandLine{
		conf:   conf,
		logger: logger,
		out:    os.Stdout,
		openDB: func() (*sqlx.DB, error) {
			var err error
			if db == nil {
				db, err = database.Open(conf)
			}
			return db, err
		},
		newService: func(server string) (collection.Service, error) {
			return remote.New(server)
		},
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
