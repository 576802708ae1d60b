package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cardscope/card-pipeline/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dataset and run status over HTTP",
	Long:  "Starts the HTTP server the comparison front-end reads from: the exported dataset, individual cards, pipeline runs and merge conflicts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := server.New(st, cfg.Export.OutputPath, cfg.Server.AllowedOrigins)
		return srv.ListenAndServe(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
