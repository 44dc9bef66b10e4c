package main

import (
	"fmt"
	"os"

	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/ossignal"
	"github.com/spf13/cobra"
)

func main() {
	conf, err := readConfigFromEnv()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	app := &cobra.Command{
		Use:     os.Args[0] + " [hostname]",
		Short:   "Bootstraps a local CA and issues server certificates signed by it",
		Version: dynversion.Version,
		Args:    cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			hostname := "localhost"
			if len(args) >= 1 {
				hostname = args[0]
			}

			if err := issue(ossignal.InterruptOrTerminateBackgroundCtx(nil), hostname, conf); err != nil {
				panic(err)
			}
		},
	}

	app.PersistentFlags().StringVar(&conf.CADir, "ca-dir", conf.CADir, "Directory for the CA key, certificate and serial counter")
	app.PersistentFlags().StringVar(&conf.CertDir, "cert-dir", conf.CertDir, "Directory for issued certificates")

	app.AddCommand(caInitEntry(conf))
	app.AddCommand(listEntry(conf))
	app.AddCommand(inspectEntry(conf))

	if err := app.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func caInitEntry(conf *config) *cobra.Command {
	return &cobra.Command{
		Use:   "ca-init",
		Short: "Bootstrap the CA (no-op if it already exists)",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := caInit(ossignal.InterruptOrTerminateBackgroundCtx(nil), conf); err != nil {
				panic(err)
			}
		},
	}
}

func listEntry(conf *config) *cobra.Command {
	return &cobra.Command{
		Use:   "cert-list",
		Short: "List issued certificates",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := list(ossignal.InterruptOrTerminateBackgroundCtx(nil), conf); err != nil {
				panic(err)
			}
		},
	}
}

func inspectEntry(conf *config) *cobra.Command {
	return &cobra.Command{
		Use:   "cert-inspect [hostname]",
		Short: "Inspect an issued certificate (wildcard-aware lookup)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := inspect(ossignal.InterruptOrTerminateBackgroundCtx(nil), args[0], conf); err != nil {
				panic(err)
			}
		},
	}
}
