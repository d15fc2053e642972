package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/engram-sh/engram/internal/config"
	"github.com/engram-sh/engram/internal/embedder"
	"github.com/engram-sh/engram/internal/engine"
	"github.com/engram-sh/engram/internal/extract"
	"github.com/engram-sh/engram/internal/guard"
	"github.com/engram-sh/engram/internal/hook"
	"github.com/engram-sh/engram/internal/index"
	"github.com/engram-sh/engram/internal/observe"
	"github.com/engram-sh/engram/internal/state"
	"github.com/engram-sh/engram/internal/store"
)

// openProject wires a project's full stack: config, observer, both
// stores, embedder, shared state, and guard. The returned cleanup
// closes everything that holds a file handle.
func openProject() (*hook.Adapters, func(), error) {
	root := resolveProjectRoot()

	cfg, err := config.Load(root)
	if err != nil {
		// A broken config file falls back to defaults; the problem is
		// reported once the log sink exists.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	key := config.ProjectKey(root)
	dir, err := cfg.ProjectDir(root)
	if err != nil {
		return nil, nil, err
	}

	obs, err := observe.NewFile(filepath.Join(dir, "engram.log"), verbose)
	if err != nil {
		return nil, nil, err
	}

	meta, err := store.NewSQLiteStore(filepath.Join(dir, "metadata.db"))
	if err != nil {
		obs.Close()
		return nil, nil, err
	}

	vectors, err := index.Open(filepath.Join(dir, "vectors"), key)
	if err != nil {
		meta.Close()
		obs.Close()
		return nil, nil, err
	}

	emb, err := embedder.New(cfg.Embedder.Provider, cfg.Embedder.Model)
	if err != nil {
		meta.Close()
		obs.Close()
		return nil, nil, err
	}

	adapters := &hook.Adapters{
		Engine:    engine.New(key, cfg, meta, vectors, emb, obs),
		State:     state.NewManager(dir, cfg.LockTimeout()),
		Guard:     guard.New(guard.DefaultPolicy),
		Extractor: extract.New(),
		Settings:  cfg,
		Obs:       obs,
	}

	cleanup := func() {
		meta.Close()
		obs.Close()
	}
	return adapters, cleanup, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
