package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-gonic/gin"
	cli "github.com/jawher/mow.cli"
	"github.com/joho/godotenv"

	"github.com/geniass/price-tracker/pkg/logging"
	"github.com/geniass/price-tracker/pkg/web"
)

func main() {
	_ = godotenv.Load()

	app := cli.App("dev-web", "Serve the catalogs straight from the data directory")
	addr := app.String(cli.StringOpt{
		Name:   "addr",
		Value:  ":8080",
		Desc:   "listen address",
		EnvVar: "ADDR",
	})
	dataDir := app.String(cli.StringOpt{
		Name:   "data-dir",
		Value:  "./data",
		Desc:   "directory that contains catalog snapshots",
		EnvVar: "DATA_DIR",
	})
	verbose := app.BoolOpt("v verbose", false, "debug logging and gin debug mode")

	app.Action = func() {
		log := logging.New(*verbose)
		if !*verbose {
			gin.SetMode(gin.ReleaseMode)
		}

		srv := &http.Server{
			Addr:    *addr,
			Handler: web.NewRouter(*dataDir, "", log.WithField("component", "web")),
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		log.WithField("addr", *addr).Info("serving")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
