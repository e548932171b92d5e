// Command rangeserverd runs one standalone range server process: it loads
// a YAML config, opens the configured DFS backend, and serves client
// connections until signalled to stop. Grounded on the teacher's
// cmd/ublk-mem/main.go for its flag parsing, logging setup, and
// signal-driven shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/colinmarc/hdfs/v2"

	rangeserver "github.com/hypertable-go/rangeserver"
	"github.com/hypertable-go/rangeserver/internal/admin"
	"github.com/hypertable-go/rangeserver/internal/dfs"
	"github.com/hypertable-go/rangeserver/internal/dfs/hdfsfs"
	"github.com/hypertable-go/rangeserver/internal/dfs/localfs"
	"github.com/hypertable-go/rangeserver/internal/dfs/s3fs"
	"github.com/hypertable-go/rangeserver/internal/logging"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML config file (defaults built in if omitted)")
		verbose    = flag.Bool("v", false, "Verbose (debug) logging")
		issueToken = flag.String("issue-token", "", "Print an admin JWT for the given subject and exit")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := rangeserver.DefaultConfig()
	if *configPath != "" {
		loaded, err := rangeserver.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	if *issueToken != "" {
		tok, err := admin.IssueToken(cfg.Admin.JWTKey, *issueToken, 0)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs, err := openFilesystem(ctx, cfg)
	if err != nil {
		log.Fatalf("open dfs backend: %v", err)
	}

	svc, err := rangeserver.NewService(ctx, cfg, fs, logger)
	if err != nil {
		log.Fatalf("start service: %v", err)
	}
	defer svc.Close()

	adminSrv := admin.New(cfg.Admin, svc.Core(), logger)
	go func() {
		if err := adminSrv.Run(ctx); err != nil {
			logger.Errorf("admin surface stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("rangeserverd: received %s, shutting down", sig)
		cancel()
	}()

	logger.Infof("rangeserverd: serving on port %d (data dir %s)", cfg.RangeServer.Port, cfg.DataDirectory)
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("serve: %v", err)
	}
	logger.Info("rangeserverd: stopped")
}

// openFilesystem builds the dfs.Filesystem selected by cfg.DFS.Type,
// registering every backend this binary links so an operator can switch
// DFS.Type in config without a rebuild.
func openFilesystem(ctx context.Context, cfg *rangeserver.Config) (dfs.Filesystem, error) {
	openers := dfs.Openers{
		"local": func(ctx context.Context) (dfs.Filesystem, error) {
			return localfs.New("/")
		},
		"s3": func(ctx context.Context) (dfs.Filesystem, error) {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DFS.S3.Region))
			if err != nil {
				return nil, fmt.Errorf("load aws config: %w", err)
			}
			client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
				if cfg.DFS.S3.Endpoint != "" {
					o.BaseEndpoint = &cfg.DFS.S3.Endpoint
				}
			})
			return s3fs.New(client, cfg.DFS.S3.Bucket, cfg.DFS.S3.Prefix), nil
		},
		"hdfs": func(ctx context.Context) (dfs.Filesystem, error) {
			client, err := hdfs.NewClient(hdfs.ClientOptions{Addresses: []string{cfg.DFS.HDFS.Namenode}})
			if err != nil {
				return nil, fmt.Errorf("connect hdfs namenode %s: %w", cfg.DFS.HDFS.Namenode, err)
			}
			return hdfsfs.New(client), nil
		},
	}
	return openers.Open(ctx, cfg.DFS.Type)
}
