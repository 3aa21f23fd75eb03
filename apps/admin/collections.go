package main

import (
	"context"

	"github.com/trezcool/masomo-dash/core/collection"
	"github.com/trezcool/masomo-dash/core/view"
)

func (cli *commandLine) list(ctx context.Context, svc collection.Service, h collection.Handle) error {
	docs, err := svc.List(ctx, h.Name, h.Filter)
	if err != nil {
		return err
	}
	return cli.printer().docs(docs)
}

// watch prints every state of a Mirror bound to h, until count states were printed,
// the feed fails or ctx is done.
func (cli *commandLine) watch(ctx context.Context, svc collection.Service, h collection.Handle, count int) error {
	ctx, cancel := context.WithCancel(ctx)
	states := make(chan view.State, 16)
	m := view.NewMirror(svc,
		view.WithLogger(cli.logger),
		view.WithListener(func(st view.State) {
			select {
			case states <- st:
			case <-ctx.Done():
			}
		}),
	)
	defer func() {
		cancel()
		m.Close()
	}()

	if err := m.Open(h); err != nil {
		return err
	}

	p := cli.printer()
	for n := 0; count <= 0 || n < count; n++ {
		select {
		case st := <-states:
			if err := p.state(st); err != nil {
				return err
			}
			if st.Err != nil {
				return st.Err
			}
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// add creates a document through a Cache and prints the reloaded collection.
func (cli *commandLine) add(ctx context.Context, svc collection.Service, h collection.Handle, flds collection.Fields) error {
	c := view.NewCache(svc, view.WithLogger(cli.logger))
	defer c.Close()

	if err := c.Load(ctx, h); err != nil {
		return err
	}
	id, err := c.Add(ctx, flds)
	if err != nil {
		return err
	}
	cli.logger.Info("document created", map[string]interface{}{"collection": h.Name, "id": id})
	return cli.printer().docs(c.Items())
}

func (cli *commandLine) remove(ctx context.Context, svc collection.Service, h collection.Handle, id string) error {
	c := view.NewCache(svc, view.WithLogger(cli.logger))
	defer c.Close()

	if err := c.Load(ctx, h); err != nil {
		return err
	}
	if err := c.Remove(ctx, id); err != nil {
		return err
	}
	return cli.printer().docs(c.Items())
}
