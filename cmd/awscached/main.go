// Command awscached runs the cache as a resident daemon. Short-lived CLI
// invocations talk to it over a unix socket instead of each carrying their
// own cache state.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/awscache/awscache"
	"github.com/awscache/awscache/internal/config"
	"github.com/awscache/awscache/pkg/types"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	var (
		configPath = flag.String("config", "", "path to a YAML configuration file")
		socketPath = flag.String("socket", "", "override the listening socket path")
	)
	flag.Parse()

	cfg := config.NewDefault()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	cfg.LoadFromEnv()
	cfg.Server.Enabled = true
	if *socketPath != "" {
		cfg.Server.SocketPath = *socketPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := awscache.New(ctx, cfg, cliFetcher)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	<-ctx.Done()
	if err := c.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// cliFetcher executes the actual AWS call through the aws CLI, passing
// parameters as cli-input-json. The cache treats the response as an opaque
// payload.
func cliFetcher(ctx context.Context, req types.Request) ([]byte, error) {
	args := []string{req.Service, req.Operation, "--output", "json"}
	if req.Profile != "" {
		args = append(args, "--profile", req.Profile)
	}
	if req.Region != "" {
		args = append(args, "--region", req.Region)
	}
	if len(req.Params) > 0 {
		input, err := json.Marshal(req.Params)
		if err != nil {
			return nil, err
		}
		args = append(args, "--cli-input-json", string(input))
	}

	cmd := exec.CommandContext(ctx, "aws", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("aws %s %s: %w: %s", req.Service, req.Operation, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
