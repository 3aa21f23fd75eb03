package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/trezcool/masomo-dash/core"
	"github.com/trezcool/masomo-dash/core/collection"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf       *core.Config
	logger     core.Logger
	out        io.Writer
	openDB     func() (*sqlx.DB, error)
	newService func(server string) (collection.Service, error)
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, ...)")
	fmt.Println("  list -collection NAME [-where EXPR]... [-server URL] - print the matching documents")
	fmt.Println("  watch -collection NAME [-where EXPR]... [-server URL] [-count N] - follow the live feed")
	fmt.Println("  add -collection NAME [-server URL] FIELD=VALUE... - create a document and print the collection")
	fmt.Println("  remove -collection NAME -id ID [-server URL] - delete a document")
}

// constraints collects repeated -where flags, eg. -where status=active -where "age>=12".
type constraints []collection.Constraint

func (cs *constraints) String() string {
	parts := make([]string, len(*cs))
	for i, c := range *cs {
		parts[i] = c.String()
	}
	return strings.Join(parts, " and ")
}

func (cs *constraints) Set(expr string) error {
	c, err := collection.ParseConstraint(expr)
	if err != nil {
		return err
	}
	*cs = append(*cs, c)
	return nil
}

type handleFlags struct {
	name   string
	where  constraints
	server string
}

func (hf *handleFlags) register(fs *flag.FlagSet, conf *core.Config, withWhere bool) {
	fs.StringVar(&hf.name, "collection", "", "The collection, eg. students.")
	fs.StringVar(&hf.server, "server", conf.Remote.BaseURL, "The collection gateway URL.")
	if withWhere {
		fs.Var(&hf.where, "where", "A constraint such as status=active or \"age>=12\". Repeatable.")
	}
}

func (hf *handleFlags) handle() (collection.Handle, error) {
	name, err := collection.ParseName(hf.name)
	if err != nil {
		return collection.Handle{}, err
	}
	filter, err := collection.NewFilter(hf.where...)
	if err != nil {
		return collection.Handle{}, err
	}
	return collection.Handle{Name: name, Filter: filter}, nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	var hf handleFlags

	listCmd := flag.NewFlagSet("list", flag.ContinueOnError)
	hf.register(listCmd, cli.conf, true)

	watchCmd := flag.NewFlagSet("watch", flag.ContinueOnError)
	hf.register(watchCmd, cli.conf, true)
	watchCount := watchCmd.Int("count", 0, "Stop after N states (0 = until interrupted).")

	addCmd := flag.NewFlagSet("add", flag.ContinueOnError)
	hf.register(addCmd, cli.conf, false)

	removeCmd := flag.NewFlagSet("remove", flag.ContinueOnError)
	hf.register(removeCmd, cli.conf, false)
	removeID := removeCmd.String("id", "", "The document id.")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])

	case "list":
		h, svc, err := cli.parseHandle(listCmd, &hf, args[2:])
		if err != nil {
			return err
		}
		return cli.list(ctx, svc, h)

	case "watch":
		h, svc, err := cli.parseHandle(watchCmd, &hf, args[2:])
		if err != nil {
			return err
		}
		return cli.watch(ctx, svc, h, *watchCount)

	case "add":
		h, svc, err := cli.parseHandle(addCmd, &hf, args[2:])
		if err != nil {
			return err
		}
		flds, err := parseFields(addCmd.Args())
		if err != nil {
			return err
		}
		if len(flds) == 0 {
			addCmd.Usage()
			return errHelp
		}
		return cli.add(ctx, svc, h, flds)

	case "remove":
		h, svc, err := cli.parseHandle(removeCmd, &hf, args[2:])
		if err != nil {
			return err
		}
		if core.CleanString(*removeID) == "" {
			removeCmd.Usage()
			return errHelp
		}
		return cli.remove(ctx, svc, h, core.CleanString(*removeID))

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) parseHandle(fs *flag.FlagSet, hf *handleFlags, args []string) (collection.Handle, collection.Service, error) {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return collection.Handle{}, nil, errHelp
		}
		return collection.Handle{}, nil, err
	}
	if hf.name == "" {
		fs.Usage()
		return collection.Handle{}, nil, errHelp
	}
	h, err := hf.handle()
	if err != nil {
		return collection.Handle{}, nil, err
	}
	svc, err := cli.newService(hf.server)
	if err != nil {
		return collection.Handle{}, nil, err
	}
	return h, svc, nil
}

// parseFields reads FIELD=VALUE pairs; values are decoded like -where values.
func parseFields(args []string) (collection.Fields, error) {
	flds := make(collection.Fields, len(args))
	for _, arg := range args {
		c, err := collection.ParseConstraint(arg)
		if err != nil {
			return nil, err
		}
		if c.Op != collection.OpEqual || c.Field == "" {
			return nil, fmt.Errorf("%q: expected FIELD=VALUE", arg)
		}
		flds[c.Field] = c.Value
	}
	return flds, nil
}
