package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/dvm/asm"
	"github.com/deepnoodle-ai/dvm/dis"
	"github.com/deepnoodle-ai/dvm/linker"
	"github.com/deepnoodle-ai/dvm/object"
)

func (a *app) disCmd() *cobra.Command {
	var class, method string
	cmd := &cobra.Command{
		Use:   "dis IMAGE",
		Short: "Disassemble the methods of a program image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.disassemble(cmd.OutOrStdout(), args[0], class, method)
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "only this class (descriptor)")
	cmd.Flags().StringVar(&method, "method", "", "only methods with this name")
	return cmd
}

func (a *app) disassemble(out io.Writer, path, class, method string) error {
	defs, err := asm.LoadImageFile(path)
	if err != nil {
		return err
	}
	l, err := linker.NewBootstrapped(object.NewHeap(0), linker.WithLogger(a.log))
	if err != nil {
		return err
	}
	if err := l.DefineAll(defs); err != nil {
		return err
	}
	if err := l.LinkAll(); err != nil {
		return err
	}

	var printed int
	for _, def := range defs {
		if class != "" && def.Descriptor != class {
			continue
		}
		c, err := l.Lookup(def.Descriptor)
		if err != nil {
			return err
		}
		for _, m := range c.Methods {
			if method != "" && m.Name != method {
				continue
			}
			if m.IsNative() || m.IsAbstract() {
				continue
			}
			instructions, err := dis.Disassemble(m)
			if err != nil {
				return err
			}
			if printed > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "%s %s\n", bold(m.String()),
				yellow(fmt.Sprintf("registers=%d ins=%d outs=%d", m.RegistersSize, m.InsSize, m.OutsSize)))
			dis.Print(instructions, out)
			if catches := dis.Catches(m); len(catches) > 0 {
				dis.PrintCatches(catches, out)
			}
			printed++
		}
	}
	if printed == 0 {
		return fmt.Errorf("%s: no matching methods with code", path)
	}
	return nil
}
