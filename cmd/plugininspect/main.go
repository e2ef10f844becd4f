// plugininspect decodes serialized plugin and engine containers without
// instantiating anything, for debugging wire-format issues.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kunal/gpu-plugin-runtime/pkg/plugin"
	"github.com/kunal/gpu-plugin-runtime/pkg/runtime"
)

func main() {
	root := &cobra.Command{
		Use:          "plugininspect",
		Short:        "Inspect serialized plugin and engine containers",
		SilenceUsage: true,
	}
	root.AddCommand(pluginCmd(), engineCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func pluginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugin <file>",
		Short: "Decode a self-describing plugin blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if !plugin.HasMagic(data) {
				return fmt.Errorf("%s: no plugin magic marker", args[0])
			}
			name, payload, err := plugin.ParseHeader(data)
			if err != nil {
				return err
			}
			fmt.Printf("type:    %s\n", name)
			fmt.Printf("payload: %d bytes\n", len(payload))

			var base plugin.Base
			if err := base.DeserializeBase(plugin.NewReader(payload)); err != nil {
				return fmt.Errorf("decoding base fields: %w", err)
			}
			for i := 0; i < base.NbInputs(); i++ {
				fmt.Printf("input %d: %s\n", i, base.InputDims(i))
			}
			fmt.Printf("batch:   %d\n", base.MaxBatchSize())
			fmt.Printf("dtype:   %s\n", base.DataType())
			fmt.Printf("format:  %s\n", base.Format())
			return nil
		},
	}
}

func engineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engine <file>",
		Short: "Decode an engine container header and its stage list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			info, err := runtime.ParseEngineInfo(data)
			if err != nil {
				return err
			}
			fmt.Printf("engine:  %s\n", info.Name)
			fmt.Printf("dtype:   %s\n", info.DataType)
			fmt.Printf("format:  %s\n", info.Format)
			fmt.Printf("batch:   %d\n", info.MaxBatchSize)
			fmt.Printf("input:   %s\n", info.InputDims)
			fmt.Printf("stages:  %d\n", len(info.Stages))
			for i, st := range info.Stages {
				fmt.Printf("  %d: %-12s payload=%d bytes", i, st.Type, st.PayloadSize)
				if len(st.BaseDims) > 0 {
					fmt.Printf(" input=%s", st.BaseDims[0])
				}
				fmt.Printf(" batch=%d\n", st.BatchSize)
			}
			return nil
		},
	}
}
