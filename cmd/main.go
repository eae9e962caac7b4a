package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andesco/playerpatch/handlers"
	"github.com/andesco/playerpatch/pkg/httpcache"
	"github.com/andesco/playerpatch/pkg/patchlib"

	"github.com/akamensky/argparse"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"
)

var version = "dev"

func main() {
	cfg := patchlib.ConfigFromEnv()

	parser := argparse.NewParser("playerpatch", "Relays the glive player scripts with the network quality check patched out")

	host := parser.String("H", "host", &argparse.Options{
		Required: false,
		Default:  cfg.Host,
		Help:     "Address to listen on. Or use HOST environment variable",
	})
	port := parser.String("p", "port", &argparse.Options{
		Required: false,
		Default:  cfg.Port,
		Help:     "Port the webserver will listen on. Or use PORT environment variable",
	})
	routesPath := parser.String("r", "routes", &argparse.Options{
		Required: false,
		Default:  cfg.RoutesPath,
		Help:     "File, directory or ';' separated list of route YAML files. Built-in routes when empty. Or use ROUTES environment variable",
	})
	timeout := parser.String("t", "timeout", &argparse.Options{
		Required: false,
		Default:  cfg.Timeout.String(),
		Help:     "Upstream request timeout, seconds or Go duration. Or use HTTP_TIMEOUT environment variable",
	})
	cacheKind := parser.Selector("", "cache", []string{"lru", "ristretto", "none"}, &argparse.Options{
		Required: false,
		Default:  cfg.Cache,
		Help:     "Upstream response cache. Or use CACHE environment variable",
	})
	cacheSize := parser.Int("", "cache-size", &argparse.Options{
		Required: false,
		Default:  cfg.CacheSize,
		Help:     "Maximum number of cached upstream responses. Or use CACHE_SIZE environment variable",
	})
	logLevel := parser.Selector("", "log-level", []string{"debug", "info", "warn", "error"}, &argparse.Options{
		Required: false,
		Default:  cfg.LogLevel,
		Help:     "Log level. Or use LOG_LEVEL environment variable",
	})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg.Host, cfg.Port, cfg.RoutesPath = *host, *port, *routesPath
	cfg.Cache, cfg.CacheSize, cfg.LogLevel = *cacheKind, *cacheSize, *logLevel
	if cfg.Timeout, err = patchlib.ParseTimeout(*timeout); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	level, err := patchlib.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	routeSet, err := patchlib.LoadRoutes(cfg.RoutesPath)
	if err != nil {
		slog.Error("failed to load routes", "error", err)
		os.Exit(1)
	}
	compiled, err := routeSet.Compile()
	if err != nil {
		slog.Error("invalid route table", "patch_pattern", errors.Is(err, patchlib.ErrPatchPattern), "error", err)
		os.Exit(1)
	}

	metrics := patchlib.NewMetrics(prometheus.DefaultRegisterer)

	var transport http.RoundTripper = patchlib.NewTransport()
	store, err := httpcache.NewStore(cfg.Cache, cfg.CacheSize)
	if err != nil {
		slog.Error("failed to create cache", "error", err)
		os.Exit(1)
	}
	if store != nil {
		cached := httpcache.NewTransport(transport, store)
		cached.Observe = metrics.ObserveCache
		transport = cached
	}
	engine := patchlib.NewEngine(patchlib.NewClient(transport, cfg.Timeout), metrics)

	app := fiber.New(
		fiber.Config{
			AppName:      "playerpatch " + version,
			GETOnly:      true,
			UnescapePath: true,
			WriteTimeout: cfg.Timeout + 5*time.Second,
		},
	)

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	if cfg.AccessLog {
		app.Use(logger.New(logger.Config{
			Format:        "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
			DisableColors: !term.IsTerminal(int(os.Stdout.Fd())),
		}))
	}
	app.Use(compress.New())

	handlers.RegisterAdmin(app, prometheus.DefaultGatherer, routeSet, cfg.ExposeRoutes)
	handlers.RegisterRoutes(app, engine, compiled)

	go func() {
		slog.Info("starting relay",
			"addr", cfg.Addr(),
			"routes", len(compiled),
			"cache", cfg.Cache,
			"timeout", cfg.Timeout)
		if err := app.Listen(cfg.Addr()); err != nil {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	slog.Info("shutdown signal received, draining connections")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("exiting")
}
