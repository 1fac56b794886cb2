package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/gochat/pkg/client"
	"github.com/NicolasHaas/gochat/pkg/config"
	"github.com/NicolasHaas/gochat/pkg/logging"
	"github.com/NicolasHaas/gochat/pkg/version"
)

func main() {
	configPath := flag.String("config", config.DefaultFile, "Key-value config file")
	userID := flag.String("id", "", "User id (alphanumeric)")
	host := flag.String("host", "", "Server IP or localhost (default: default.server.ip from config)")
	port := flag.String("port", "", "Server port (default: default.server.port from config)")
	useTLS := flag.Bool("tls", false, "Connect with TLS")
	idle := flag.Duration("idle", 0, "Idle time before status turns INACTIVE (default: client.idle.timeout)")
	logLevel := flag.String("log-level", "warn", "Log level: "+logging.LevelNames())
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner("client"))
		return
	}

	if err := logging.Setup(logging.Options{Level: *logLevel, Output: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	file, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *host == "" {
		*host = file.Get(config.KeyServerIP)
	}
	if *port == "" {
		*port = file.Get(config.KeyServerPort)
	}
	if *idle == 0 {
		if *idle, err = file.Duration(config.KeyIdleTimeout, client.DefaultIdleTimeout); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	os.Exit(run(*userID, *host, *port, *useTLS, *idle))
}

func run(userID, host, port string, useTLS bool, idle time.Duration) int {
	con := newConsole(os.Stdout)
	session := client.NewSession(con, con, client.Options{TLS: useTLS})

	if err := session.Connect(context.Background(), userID, host, port); err != nil {
		var ve client.ValidationError
		switch {
		case errors.As(err, &ve):
			fmt.Fprintf(os.Stderr, "invalid input: %v\n", ve)
		case errors.Is(err, client.ErrConnectionRefused):
			fmt.Fprintf(os.Stderr, "could not reach %s:%s, is the server running?\n", host, port)
		case errors.Is(err, client.ErrDuplicateID):
			fmt.Fprintf(os.Stderr, "user id %q is already in use\n", userID)
		default:
			fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		}
		return 1
	}

	tracker := client.NewActivityTracker(session, idle)
	tracker.Start()
	defer tracker.Stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case line, ok := <-lines:
			if !ok || con.execute(line, session) {
				_ = session.Quit()
				return 0
			}
			tracker.Touch()
		case <-sigCh:
			_ = session.Quit()
			return 0
		case <-session.Done():
			// reconnection gave up
			return 1
		}
	}
}
