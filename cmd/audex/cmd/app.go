package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmylchreest/audex/internal/config"
	"github.com/jmylchreest/audex/internal/engine"
	"github.com/jmylchreest/audex/internal/engine/native"
	"github.com/jmylchreest/audex/internal/extract"
	"github.com/jmylchreest/audex/internal/storage"
	"github.com/jmylchreest/audex/internal/version"
	"github.com/jmylchreest/audex/pkg/httpclient"
)

// engineStack is the engine loader and extraction service shared by every command.
type engineStack struct {
	loader  *engine.Loader
	sandbox *storage.Sandbox
	service *extract.Service
	support func(ctx context.Context) native.Support
}

// newEngineStack wires the loader, native installer, capability check and
// extraction service from configuration.
func newEngineStack(cfg *config.Config, logger *slog.Logger) (*engineStack, error) {
	sandbox, err := storage.NewSandbox(cfg.Storage.SandboxPath())
	if err != nil {
		return nil, fmt.Errorf("initializing engine sandbox: %w", err)
	}

	userAgent := cfg.Engine.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = 0 // bounded by engine.mirror_timeout per mirror
	httpCfg.RetryAttempts = cfg.Engine.RetryAttempts
	httpCfg.UserAgent = userAgent
	httpCfg.MaxResponseSize = cfg.Engine.MaxArtifactSize.Bytes()
	httpCfg.Logger = logger
	fetcher := engine.NewHTTPFetcher(httpclient.New(httpCfg))

	policy := extract.PolicyFromConfig(cfg.Extraction)

	initialize := native.NewInitializer(native.Options{
		Sandbox:           sandbox,
		MemoryLimit:       uint64(cfg.Engine.MemoryLimit.Bytes()),
		MaxBinarySize:     cfg.Engine.MaxArtifactSize.Bytes(),
		RequiredLibraries: requiredLibraries(policy.ReencodeCodec),
		Logger:            logger,
	})

	loader := engine.NewLoader(engine.LoaderConfig{
		Mirrors:               cfg.Engine.Mirrors,
		ManifestName:          cfg.Engine.ManifestName,
		BinaryName:            cfg.Engine.BinaryName,
		MirrorTimeout:         cfg.Engine.MirrorTimeout,
		LoadTimeout:           cfg.Engine.LoadTimeout,
		EstimatedManifestSize: cfg.Engine.EstimatedManifestSize.Bytes(),
		EstimatedBinarySize:   cfg.Engine.EstimatedBinarySize.Bytes(),
	}, fetcher, initialize, logger)

	check := native.SupportCheck{
		Sandbox:       sandbox,
		Mirrors:       cfg.Engine.Mirrors,
		MinFreeMemory: uint64(cfg.Extraction.MinFreeMemory.Bytes()),
	}
	support := func(ctx context.Context) native.Support {
		return native.CheckSupport(ctx, check)
	}

	service := extract.NewService(policy, loader,
		extract.WithLogger(logger),
		extract.WithSupportCheck(func(ctx context.Context) error {
			return supportError(support(ctx))
		}),
	)

	return &engineStack{
		loader:  loader,
		sandbox: sandbox,
		service: service,
		support: support,
	}, nil
}

// workDir returns the engine's per-job work directory inside the sandbox.
func (s *engineStack) workDir() (*storage.Sandbox, error) {
	if err := s.sandbox.MkdirAll(native.WorkDir); err != nil {
		return nil, fmt.Errorf("creating engine work directory: %w", err)
	}
	return s.sandbox.SubSandbox(native.WorkDir)
}

func (s *engineStack) Close() {
	s.service.Close()
}

// supportError turns a failed capability check into an error.
func supportError(s native.Support) error {
	if s.Supported {
		return nil
	}
	return errors.New(strings.Join(s.Reasons, "; "))
}

// requiredLibraries maps an ffmpeg encoder name to the build library it needs.
func requiredLibraries(codec string) []string {
	if strings.HasPrefix(codec, "lib") {
		return []string{codec}
	}
	return nil
}
